// Package domain models municipal traffic telemetry and incident reports.
//
// # Data Sources
//
// Vehicle counts come from roadside camera detectors that publish one JSON
// object per detection window:
//
//	{"camera_id":"CAM101","timestamp":1714143000.25,
//	 "car_count":40,"motorcycle_count":15,"bus_count":3,"truck_count":2}
//
// Incident feeds publish a JSON array of reports:
//
//	[{"id":2,"time":"2024-04-26T14:45:00Z","location":"Highway 1",
//	  "type":"Accident","severity":"High","lat":37.7849,"lng":-122.4094}]
//
// # Conventions
//
// Timestamps arrive as epoch seconds (often fractional), epoch milliseconds,
// or ISO-8601 strings. Values above 1e12 are treated as milliseconds. All
// timestamps are normalized to UTC with millisecond precision.
//
// The vehicle total is never taken from the payload. It is derived from the
// four category counts, and the congestion label is derived from the total
// each time it is read:
//
//	total > 50  -> High
//	total > 30  -> Medium
//	otherwise   -> Low
//
// Incident type strings are free-form upstream ("Stalled Vehicle",
// "Road block", "ACCIDENT"). They are matched case-insensitively with
// spaces, dashes, and underscores removed. Unrecognized types map to Other and
// keep their raw label.
//
// Severity is trusted when the feed provides one of Low, Medium, or High.
// Any other value is recorded as Unknown and classified as Medium.
package domain
