// Package measure provides a hierarchical measurement execution engine.
//
// A measurement is modelled as a tree of tasks bound to a runtime database;
// the engine runs the tree in a supervised worker process while hooks,
// monitors and a dependency resolver orbit the run. The package comes with
// pluggable service layers such as:
//
//   - processor – sequencing of dependency collection, hooks and execution
//   - engine    – out-of-process execution of the task tree
//   - dao       – persistence of measure configurations
//
// The module is designed to be embedded in host applications. End-users
// typically interact with it via the high-level Service façade exposed by
// the root package:
//
//	srv, _ := measure.New()
//	m := measurement.New("scan")
//	_ = m.Root.AppendChild(task.NewLoopTask("sweep"))
//	_ = srv.Run(ctx, m, false)
//	srv.Join(time.Minute)
//
// For more details see the README and individual sub-packages.
package measure
