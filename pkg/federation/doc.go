// Package federation implements the enterprise layer of a metadata repository cohort.
// It presents every registered member collection as one virtual metadata collection:
// requests fan out to the members in parallel or in sequence, results are merged by
// GUID, mutations are routed to the member that is home to the instance, and the
// members' failures are reduced to a single error by a fixed priority order.
package federation
