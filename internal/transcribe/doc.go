// Package transcribe converts a DAE optimal-control problem into a finite
// nonlinear program and decodes solutions back into named time series.
//
// A [Problem] composes a model provider, a data provider and a
// [Formulation] holding the objective and constraints. [Problem.Transcribe]
// builds the decision-vector layout, discretizes the dynamics with the
// theta method (collocating some states and integrating others with an
// implicit step), adds initial conditions, delayed-feedback and path
// constraints for every ensemble member, and returns an [nlp.Problem].
//
// # Caching
//
// The compiled DAE residual, the integrator step and the initial-residual
// map are built on the first transcription and reused afterwards, so
// iterative drivers can call Transcribe repeatedly with new bounds, seeds
// or parameter values. They inline the parameters that are constant across
// the ensemble and are rebuilt when those values change.
// [Problem.ClearCache] forces a rebuild.
//
// # Queries
//
// While building the objective and constraints a formulation reads
// discretized quantities through the [Context]: StateAt, ControlAt, DerAt,
// StatesIn, Integral, ExtraVariable and MapPathExpression.
package transcribe
