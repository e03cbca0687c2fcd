// Package problems provides optimal-control problems built on small DAE
// models.
//
// Each constructor turns a [config.Config] into a [Case]: the symbolic
// model, the numeric data for every ensemble member and the formulation
// supplying objective and constraints.
//
//   - [Integrator]: drive a pure integrator to zero
//   - [SpringMass]: settle a damped spring-mass with a bounded force
//   - [Pendulum]: stabilize a nonlinear pendulum, tracking its energy as a
//     path variable
//   - [Reservoir]: keep a storage level inside a time-varying band with an
//     algebraic outflow equation and an uncertain inflow ensemble
//   - [Channel]: supply a storage through a channel with transport delay
//
// # Example
//
//	c, _ := problems.SpringMass(cfg)
//	p, _ := c.New(cfg.TranscribeOptions(), log)
//	nlp, _ := p.Transcribe()
package problems
