package v1

import "fmt"

// PopulationRequest is the unit of work carried by the population bus.
// The JSON shape is the bus wire schema and must stay stable.
type PopulationRequest struct {
	RequestID string `json:"requestId"`
	StartDate Date   `json:"startDate"`
	EndDate   Date   `json:"endDate"`

	// Attempt is owned by the bus: 0 when published, the 1-based delivery
	// number once handed to a worker.
	Attempt int `json:"attempt"`
}

// Validate checks the envelope. Range width is the gateway's concern.
func (r *PopulationRequest) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return fmt.Errorf("startDate and endDate are required")
	}
	if r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("endDate %s is before startDate %s", r.EndDate, r.StartDate)
	}
	if r.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	return nil
}

// DateRange is an inclusive [Start, End] span of days.
type DateRange struct {
	Start Date `json:"start_date"`
	End   Date `json:"end_date"`
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}
