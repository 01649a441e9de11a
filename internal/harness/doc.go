// Package harness runs end-to-end truncation scenarios against an
// in-memory event store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: subscription_bound
//	description: "The slowest persistent subscription bounds the scan"
//	stream: $ce-orders
//	setup:
//	  links: [dead, dead, dead, live]
//	  truncate_before: 1
//	  subscriptions:
//	    - group: billing
//	      checkpoint: 2
//	  projections:
//	    - name: order-summary
//	      query: "fromCategory('orders')"
//	      streams: { $ce-orders: 3 }
//	    - name: $by_category
//	      at_link: 1
//	options:
//	  page_size: 2
//	  ignore_system: [$streams]
//	flow:
//	  - commit: true
//	    expect:
//	      outcome: safe_point
//	      truncate_before: 2
//	assertions:
//	  - type: stored_truncate_before
//	    value: 2
//
// Links are "live", "dead" or "metadata". The link at offset n sits at
// global position (n+1)*100, so at_link: n places a projection exactly on
// that link.
//
// # Assertion Types
//
//   - stored_truncate_before: the $tb left in metadata (omit value for none)
//   - consumer: a consumer observed by a run, with its checkpoint
//   - metadata_writes: the number of metadata writes issued
//
// # Golden Reports
//
// RunWithGolden compares a JSON report of every run against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
