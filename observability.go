package conflux

import (
	"github.com/zoobzio/capitan"
)

// Conflux signals for observability.
var (
	// Factory lifecycle events.
	FactoryCreated      = capitan.NewSignal("conflux.factory.created", "Conflux factory created")
	TapRegistered       = capitan.NewSignal("conflux.tap.registered", "Tap registered")
	TapRemoved          = capitan.NewSignal("conflux.tap.removed", "Tap removed")
	PredicateRegistered = capitan.NewSignal("conflux.predicate.registered", "Predicate registered")
	PredicateRemoved    = capitan.NewSignal("conflux.predicate.removed", "Predicate removed")

	// Definition operations.
	DefinitionValidationStarted   = capitan.NewSignal("conflux.definition.validation.started", "Definition validation started")
	DefinitionValidationCompleted = capitan.NewSignal("conflux.definition.validation.completed", "Definition validation completed")
	DefinitionValidationFailed    = capitan.NewSignal("conflux.definition.validation.failed", "Definition validation failed")
	DefinitionRegistered          = capitan.NewSignal("conflux.definition.registered", "Definition registered")
	DefinitionUpdated             = capitan.NewSignal("conflux.definition.updated", "Definition updated")
	DefinitionRemoved             = capitan.NewSignal("conflux.definition.removed", "Definition removed")
	GraphRetrieved                = capitan.NewSignal("conflux.graph.retrieved", "Graph retrieved")

	// Graph construction.
	FlowBuildStarted   = capitan.NewSignal("conflux.flow.build.started", "Flow build started")
	FlowBuildCompleted = capitan.NewSignal("conflux.flow.build.completed", "Flow build completed")
	FlowBuildFailed    = capitan.NewSignal("conflux.flow.build.failed", "Flow build failed")
	SourceUnused       = capitan.NewSignal("conflux.flow.source.unused", "Bound source is not consumed by any tail")

	// File operations.
	DefinitionFileLoaded  = capitan.NewSignal("conflux.definition.file.loaded", "Definition file loaded")
	DefinitionFileFailed  = capitan.NewSignal("conflux.definition.file.failed", "Definition file failed")
	DefinitionYAMLParsed  = capitan.NewSignal("conflux.definition.yaml.parsed", "YAML definition parsed")
	DefinitionJSONParsed  = capitan.NewSignal("conflux.definition.json.parsed", "JSON definition parsed")
	DefinitionParseFailed = capitan.NewSignal("conflux.definition.parse.failed", "Definition parse failed")

	// Execution handoff.
	GraphSubmitted     = capitan.NewSignal("conflux.graph.submitted", "Graph submitted to executor")
	GraphSubmitFailed  = capitan.NewSignal("conflux.graph.submit.failed", "Graph submission failed")
	ExecutionStarted   = capitan.NewSignal("conflux.execution.started", "Execution started")
	ExecutionCompleted = capitan.NewSignal("conflux.execution.completed", "Execution completed")
	ExecutionFailed    = capitan.NewSignal("conflux.execution.failed", "Execution failed")
	StageCompleted     = capitan.NewSignal("conflux.execution.stage.completed", "Stage completed")
	SinkWritten        = capitan.NewSignal("conflux.execution.sink.written", "Sink written")
)

// Field keys for event data.
var (
	KeyName       = capitan.NewStringKey("name")
	KeyStage      = capitan.NewStringKey("stage")
	KeyKind       = capitan.NewStringKey("kind")
	KeyStream     = capitan.NewStringKey("stream")
	KeyTap        = capitan.NewStringKey("tap")
	KeyVersion    = capitan.NewStringKey("version")
	KeyOldVersion = capitan.NewStringKey("old_version")
	KeyNewVersion = capitan.NewStringKey("new_version")
	KeyPath       = capitan.NewStringKey("path")
	KeyError      = capitan.NewStringKey("error")
	KeyExecution  = capitan.NewStringKey("execution")
	KeyDuration   = capitan.NewDurationKey("duration")
	KeyErrorCount = capitan.NewIntKey("error_count")
	KeyStageCount = capitan.NewIntKey("stage_count")
	KeyRecords    = capitan.NewIntKey("records")
	KeySizeBytes  = capitan.NewIntKey("size_bytes")
	KeyFound      = capitan.NewBoolKey("found")
)
