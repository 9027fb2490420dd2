/*
Package servicemesh groups service mesh components.

Subpackages:

  - circuitbreaker: Circuit breaker pattern implementation

Usage:

	import "github.com/thin-edge/tedge-core/pkg/servicemesh/circuitbreaker"

	cb := circuitbreaker.New("api", circuitbreaker.Options{FailureThreshold: 5})
	result, err := cb.Execute(func() (interface{}, error) { return call() })
*/
package servicemesh
