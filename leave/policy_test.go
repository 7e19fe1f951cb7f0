package leave_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LEAVE TYPE PARSING TESTS
// =============================================================================

func TestParseLeaveType_FullDefinition(t *testing.T) {
	lt, err := leave.ParseLeaveType([]byte(`{
		"id": "annual",
		"name": "Annual Leave",
		"accrual": "annual_reset",
		"default_days": 18,
		"advance_notice_days": 3
	}`))
	require.NoError(t, err)

	assert.Equal(t, leave.LeaveTypeID("annual"), lt.ID)
	assert.Equal(t, "Annual Leave", lt.Name)
	assert.Equal(t, leave.AccrualAnnualReset, lt.Accrual)
	assert.True(t, lt.DefaultDays.Equal(leave.Days(18)))
	assert.Equal(t, 3, lt.AdvanceNoticeDays)
	assert.False(t, lt.EmergencyExempt)
}

func TestParseLeaveType_Defaults(t *testing.T) {
	// Only the id is required; name falls back to the id and accrual to
	// annual_reset.

	lt, err := leave.ParseLeaveType([]byte(`{"id": "sick", "emergency_exempt": true}`))
	require.NoError(t, err)

	assert.Equal(t, "sick", lt.Name)
	assert.Equal(t, leave.AccrualAnnualReset, lt.Accrual)
	assert.True(t, lt.EmergencyExempt)
	assert.Zero(t, lt.AdvanceNoticeDays)
}

func TestParseLeaveType_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":      `{"name": "Nameless"}`,
		"unknown accrual": `{"id": "x", "accrual": "lunar"}`,
		"negative notice": `{"id": "x", "advance_notice_days": -1}`,
		"malformed json":  `{`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := leave.ParseLeaveType([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestLeaveType_JSONRoundTrip(t *testing.T) {
	lt := leave.LeaveType{
		ID:                "unpaid",
		Name:              "Unpaid Leave",
		Accrual:           leave.AccrualRolling,
		DefaultDays:       leave.Days(30),
		AdvanceNoticeDays: 7,
	}

	j := lt.ToJSON()
	assert.Equal(t, "unpaid", j.ID)
	assert.Equal(t, "rolling", j.Accrual)
	assert.Equal(t, 30.0, j.DefaultDays)
	assert.Equal(t, 7, j.AdvanceNoticeDays)
}

// =============================================================================
// DEFAULT CATALOG TESTS
// =============================================================================

func TestDefaultLeaveTypes_Catalog(t *testing.T) {
	types := leave.DefaultLeaveTypes()
	require.NotEmpty(t, types)

	byID := make(map[leave.LeaveTypeID]leave.LeaveType, len(types))
	for _, lt := range types {
		byID[lt.ID] = lt
	}

	annual, ok := byID["annual"]
	require.True(t, ok)
	assert.True(t, annual.DefaultDays.Equal(leave.Days(18)))
	assert.Equal(t, 3, annual.AdvanceNoticeDays)
	assert.False(t, annual.EmergencyExempt)

	sick, ok := byID["sick"]
	require.True(t, ok)
	assert.True(t, sick.EmergencyExempt)
}
