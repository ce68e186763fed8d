// Package component holds the small surface every relay component shares:
// identity (Metadata), health and throughput reporting (Discoverable), the
// lifecycle State enumeration, the Runner contract for standing loops, and the
// Dependencies bundle handed to constructors.
//
// Components receive Dependencies by value and derive a logger tagged with their
// name:
//
//	func NewTransformer(cfg Config, deps component.Dependencies) (*Transformer, error) {
//	    logger := deps.GetLoggerWithComponent("facs_smooth")
//	    ...
//	}
//
// FlowCounter implements the bookkeeping behind Health and DataFlow so that each
// component only records messages and errors.
package component
