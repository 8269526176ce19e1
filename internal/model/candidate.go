// SPDX-License-Identifier: MIT

package model

// Candidate is one denormalized eligibility row: a SIM that may need a
// recharge this tick. GPS/ELIOT rows carry telemetry-derived idle
// figures; VOZ rows carry the subscriber's package code instead.
type Candidate struct {
	Service     ServiceType
	SIM         string
	Description string
	Company     string
	DeviceID    string
	ExpiryUnix  int64

	// Idle time since the most recent telemetry row. Days are kept as a
	// float so the day-limit and minute-threshold comparisons share one
	// source value. Zero for VOZ.
	IdleDays    float64
	IdleMinutes float64

	// VOZ only: package catalog code chosen by the subscriber.
	PackageCode string
}

// Classification is the outcome of the two-level time gate applied to
// the candidate set of one pipeline tick.
type Classification struct {
	ToRecharge      []Candidate
	Savings         []Candidate // still reporting; intentionally not charged
	ReportingOnTime int
	TotalRecords    int
}

// PackageDef is one entry of the VOZ package catalog.
type PackageDef struct {
	PSL    string  `yaml:"psl"`
	Days   int     `yaml:"days"`
	Amount float64 `yaml:"amount"`
	Label  string  `yaml:"label"`
}
