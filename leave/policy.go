/*
policy.go - Leave type catalog and JSON configuration

PURPOSE:
  Converts JSON leave type definitions into LeaveType structs so HR can
  change policy knobs (entitlement, advance notice, emergency exemption)
  without code changes, and provides the default catalog seeded at startup.

JSON SCHEMA:
  {
    "id": "annual",
    "name": "Annual Leave",
    "accrual": "annual_reset",
    "default_days": 18,
    "advance_notice_days": 3,
    "emergency_exempt": false
  }

SEE ALSO:
  - types.go: LeaveType definition
  - api/handlers.go: POST /api/leave-types accepts this schema
*/
package leave

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA
// =============================================================================

// LeaveTypeJSON is the wire/storage representation of a leave type.
type LeaveTypeJSON struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Accrual           string  `json:"accrual,omitempty"`
	DefaultDays       float64 `json:"default_days,omitempty"`
	AdvanceNoticeDays int     `json:"advance_notice_days,omitempty"`
	EmergencyExempt   bool    `json:"emergency_exempt,omitempty"`
}

// ParseLeaveType converts a JSON definition into a LeaveType, applying
// defaults and validating the accrual policy.
func ParseLeaveType(data []byte) (LeaveType, error) {
	var j LeaveTypeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return LeaveType{}, fmt.Errorf("parse leave type: %w", err)
	}
	return leaveTypeFromJSON(j)
}

func leaveTypeFromJSON(j LeaveTypeJSON) (LeaveType, error) {
	if j.ID == "" {
		return LeaveType{}, fmt.Errorf("leave type id is required")
	}
	if j.Name == "" {
		j.Name = j.ID
	}

	accrual := AccrualPolicy(j.Accrual)
	switch accrual {
	case "":
		accrual = AccrualAnnualReset
	case AccrualAnnualReset, AccrualRolling:
	default:
		return LeaveType{}, fmt.Errorf("unknown accrual policy %q", j.Accrual)
	}

	if j.AdvanceNoticeDays < 0 {
		return LeaveType{}, fmt.Errorf("advance_notice_days must be >= 0")
	}

	return LeaveType{
		ID:                LeaveTypeID(j.ID),
		Name:              j.Name,
		Accrual:           accrual,
		DefaultDays:       decimal.NewFromFloat(j.DefaultDays),
		AdvanceNoticeDays: j.AdvanceNoticeDays,
		EmergencyExempt:   j.EmergencyExempt,
	}, nil
}

// ToJSON converts a LeaveType back to its wire representation.
func (lt LeaveType) ToJSON() LeaveTypeJSON {
	days, _ := lt.DefaultDays.Float64()
	return LeaveTypeJSON{
		ID:                string(lt.ID),
		Name:              lt.Name,
		Accrual:           string(lt.Accrual),
		DefaultDays:       days,
		AdvanceNoticeDays: lt.AdvanceNoticeDays,
		EmergencyExempt:   lt.EmergencyExempt,
	}
}

// =============================================================================
// DEFAULT CATALOG
// =============================================================================

// DefaultLeaveTypes is the catalog seeded when the store has no leave types.
func DefaultLeaveTypes() []LeaveType {
	return []LeaveType{
		{
			ID:                "annual",
			Name:              "Annual Leave",
			Accrual:           AccrualAnnualReset,
			DefaultDays:       Days(18),
			AdvanceNoticeDays: 3,
		},
		{
			ID:              "sick",
			Name:            "Sick Leave",
			Accrual:         AccrualAnnualReset,
			DefaultDays:     Days(10),
			EmergencyExempt: true,
		},
		{
			ID:              "bereavement",
			Name:            "Bereavement Leave",
			Accrual:         AccrualAnnualReset,
			DefaultDays:     Days(5),
			EmergencyExempt: true,
		},
		{
			ID:                "unpaid",
			Name:              "Unpaid Leave",
			Accrual:           AccrualRolling,
			DefaultDays:       Days(30),
			AdvanceNoticeDays: 7,
		},
	}
}
