/*
Package resilience provides circuit breakers for outbound fetches.

# Usage

	group := resilience.NewGroup("origin", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	resp, err := resilience.Do(group.Get(origin), func() (*Response, error) {
		return client.Send(req)
	})

A Group holds one breaker per key, so a failing origin does not open the
circuit for healthy ones.

# States

	Closed --[ReadyToTrip]-> Open --[Timeout]-> Half-Open --[MaxRequests successes]-> Closed
	                                               |
	                                          [failure]
	                                               v
	                                              Open
*/
package resilience
