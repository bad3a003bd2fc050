// Package planner turns a desired environment and an observed instance into
// an ordered action plan.
//
// [Plan] is a pure function: the same inputs always produce a byte-identical
// plan, so every branch of the decision table is covered by unit tests
// without cloud calls. [Observe] is the only part that talks to the cloud,
// and only when an existing instance has to be selected.
//
// The actions and their ordering:
//
//	create path:  CreateInstance, InstallSoftware|SkipSoftware, [ExtractAccessCredential]
//	reuse path:   ReuseInstance,  InstallSoftware|SkipSoftware, ExtractAccessCredential
//
// Software and credential actions refer to their instance either by literal
// id (reuse) or by a forward reference to the CreateInstance action whose
// result supplies the id at execution time.
package planner
