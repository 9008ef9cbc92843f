// Package lib provides a Go SDK to execute task plans and manage their checkpoints
// programmatically.
//
// It runs the same orchestration the stepper CLI does (planning, strategies,
// retries and durable checkpoints) without shelling out to the binary.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	report, err := client.Run(ctx, lib.RunOpts{
//	    Request:  "backup my documents",
//	    Template: "backup",
//	})
//
// # Plans
//
// A plan can come from a template of the plans directory (selected by name or
// matched against the request keywords) or be provided inline as YAML or JSON
// with [RunOpts].PlanData.
//
// # Executors
//
// [ExecutorHost] runs shell and container operations on the host. [ExecutorFake]
// succeeds every operation without side effects. Custom executors can be
// registered by capability with [Config].Executors, they take precedence over the
// ones of the selected executor type.
//
// # Checkpoints
//
// Every run is checkpointed in SQLite. Interrupted, paused and failed runs can
// be resumed later with [Client.Resume]:
//
//	cps, _ := client.ResumableCheckpoints(ctx, "")
//	for _, cp := range cps {
//	    client.Resume(ctx, cp.ID, nil)
//	}
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Resource does not exist.
//   - [ErrAlreadyExists]: Resource already exists.
//   - [ErrNotValid]: Invalid input.
//   - [ErrIllegalTransition]: The checkpoint state does not allow the operation.
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines.
package lib
