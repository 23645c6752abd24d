package tools

import (
	"context"
	"fmt"
	"time"

	"bloodtest/analyser-app/core"
)

// CurrentDateInput represents the input parameters for the current_date tool.
type CurrentDateInput struct {
	// Location is the IANA time zone identifier.
	//
	// required: false
	// example: "Asia/Colombo"
	Location string `json:"location,omitempty" jsonschema_description:"IANA time zone identifier (e.g., 'Asia/Colombo', 'America/New_York'), default is UTC"`
}

// CurrentDateOutput represents the output of the current_date tool.
type CurrentDateOutput struct {
	Date     string `json:"date" jsonschema_description:"Current date as YYYY-MM-DD"`
	Time     string `json:"time" jsonschema_description:"Current time formatted as RFC 3339"`
	Weekday  string `json:"weekday"`
	Location string `json:"location"`
}

// Clock serves current_date. Now defaults to time.Now.
type Clock struct {
	Now func() time.Time
}

// CurrentDate lets an agent judge how old a report is.
func (c Clock) CurrentDate(ctx context.Context, input CurrentDateInput) (CurrentDateOutput, error) {
	loc := time.UTC
	if input.Location != "" {
		var err error
		loc, err = time.LoadLocation(input.Location)
		if err != nil {
			return CurrentDateOutput{}, core.NewToolError(core.ToolInvalidInput, fmt.Errorf("invalid location: %v", err))
		}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().In(loc)

	return CurrentDateOutput{
		Date:     t.Format(time.DateOnly),
		Time:     t.Format(time.RFC3339),
		Weekday:  t.Weekday().String(),
		Location: loc.String(),
	}, nil
}
