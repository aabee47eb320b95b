/*
Package ports defines the driven ports (interfaces) for the Espalier pipeline.

These interfaces decouple the orchestration core from external collaborators,
allowing the engine to work with different task sources, model backends,
processors, and archive stores.

# Key Interfaces

  - TaskSource: fetches the work items a run operates on.
  - Classifier: labels tasks with one of the known classifications.
  - ModelClient: the decision service; structured prompt in, free text out.
  - Processor: a per-task content processor (research, next-action, ...).
  - ReportSink: persists the final report.
  - NoteStore: persists per-task learning notes.
  - ArchiveStore: persists immutable records of completed runs.
  - RunLocker: serializes named runs across server replicas.
*/
package ports
