package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRequestStructural(t *testing.T) {
	c := NewChain()

	f := c.Validate(&AssignRequest{ResourceID: "r1"})
	require.NotNil(t, f)
	assert.Equal(t, TierStructural, f.Tier)
	assert.Equal(t, "inspection_failed", f.Status())
	assert.Equal(t, "StructuralInspector", f.Inspector())

	fields := map[string]bool{}
	for _, v := range f.Violations {
		fields[v.Field] = true
	}
	assert.True(t, fields["incident_id"])
	assert.True(t, fields["quantity"])
	assert.False(t, fields["resource_id"])

	assert.Nil(t, c.Validate(&AssignRequest{IncidentID: "i1", ResourceID: "r1", Quantity: 3}))
}

func TestAssignRequestNegativeQuantityIsDomain(t *testing.T) {
	f := NewChain().Validate(&AssignRequest{IncidentID: "i1", ResourceID: "r1", Quantity: -4})
	require.NotNil(t, f)
	assert.Equal(t, TierDomain, f.Tier)
	assert.Contains(t, f.Messages()[0], "quantity must be greater than 0")
}

func TestStructuralShortCircuitsOtherTiers(t *testing.T) {
	f := NewChain().Validate(&IncidentReport{
		Title:    "<script>alert(1)</script>",
		Severity: "apocalyptic",
	})
	require.NotNil(t, f)
	assert.Equal(t, TierStructural, f.Tier)
	for _, v := range f.Violations {
		assert.Equal(t, TierStructural, v.Tier)
	}
}

func TestIncidentDomainViolationsAccumulate(t *testing.T) {
	f := NewChain().Validate(&IncidentReport{
		Title:       "Fire",
		Description: strings.Repeat("x", 1001),
		Type:        "fire",
		Severity:    "apocalyptic",
		Location:    "Sector 4",
	})
	require.NotNil(t, f)
	assert.Equal(t, TierDomain, f.Tier)
	assert.Len(t, f.Violations, 3)
	joined := strings.Join(f.Messages(), "|")
	assert.Contains(t, joined, "title is too short (minimum 5 characters)")
	assert.Contains(t, joined, "description exceeds maximum length of 1000 characters")
	assert.Contains(t, joined, "invalid severity: must be one of low, medium, high, critical")
}

func TestSeverityIsCaseInsensitive(t *testing.T) {
	r := &IncidentReport{Title: "Flooded underpass", Type: "flood", Severity: " HIGH ", Location: "Main St"}
	assert.Nil(t, NewChain().Validate(r))
	assert.Equal(t, "high", r.Severity)
}

func TestSecurityAndDomainAccumulate(t *testing.T) {
	f := NewChain().Validate(&IncidentReport{
		Title:    "Help <script>alert(1)</script>",
		Type:     "fire",
		Severity: "extreme",
		Location: "x' OR 1=1 --",
	})
	require.NotNil(t, f)
	assert.True(t, f.Security())
	assert.Equal(t, "access_denied", f.Status())
	assert.Equal(t, "SecurityInspector", f.Inspector())

	tiers := map[Tier]int{}
	for _, v := range f.Violations {
		tiers[v.Tier]++
	}
	assert.Equal(t, 1, tiers[TierDomain])
	assert.GreaterOrEqual(t, tiers[TierSecurity], 2)
}

func TestHeuristicMarkers(t *testing.T) {
	cases := []struct {
		value string
		flag  bool
	}{
		{"St. Mary's Hospital", false},
		{"Road closed near the on-ramp", false},
		{"Online volunteers needed", false},
		{"<SCRIPT src=x>", true},
		{"javascript:alert(1)", true},
		{"<img onerror=alert(1)>", true},
		{"admin' --", true},
		{"' or '1'='1", true},
		{"1 UNION SELECT password FROM users", true},
		{"x; DROP TABLE resources;", true},
		{"abc%27%23", true},
	}
	for _, tc := range cases {
		got := len(ScanText("q", tc.value)) > 0
		assert.Equal(t, tc.flag, got, "value %q", tc.value)
	}
}

func TestResourceRequestStatus(t *testing.T) {
	c := NewChain()
	assert.Nil(t, c.Validate(&ResourceRequest{Name: "Water", Type: "supply", TotalQuantity: 10}))
	assert.Nil(t, c.Validate(&ResourceRequest{Name: "Water", Type: "supply", Status: "Low"}))

	f := c.Validate(&ResourceRequest{Name: "Water", Type: "supply", TotalQuantity: -1, Status: "lost"})
	require.NotNil(t, f)
	assert.Equal(t, TierDomain, f.Tier)
	assert.Len(t, f.Violations, 2)
}

func TestStatusChange(t *testing.T) {
	c := NewChain()
	assert.Nil(t, c.Validate(&StatusChange{Status: "In_Progress"}))
	f := c.Validate(&StatusChange{Status: "closed"})
	require.NotNil(t, f)
	assert.Equal(t, TierDomain, f.Tier)
	f = c.Validate(&StatusChange{})
	require.NotNil(t, f)
	assert.Equal(t, TierStructural, f.Tier)

	sc := &StatusChange{Status: "verified", AssignedTo: "  usr-volunteer "}
	assert.Nil(t, c.Validate(sc))
	assert.Equal(t, "usr-volunteer", sc.AssignedTo)

	f = c.Validate(&StatusChange{Status: "verified", AssignedTo: "x' OR '1'='1"})
	require.NotNil(t, f)
	assert.Equal(t, TierSecurity, f.Tier)
	assert.Equal(t, "assigned_to", f.Violations[0].Field)
}

func TestFailureIsAnError(t *testing.T) {
	var err error = NewChain().Validate(&StatusChange{})
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Contains(t, f.Error(), "missing required field: status")
}
