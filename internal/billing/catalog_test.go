package billing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicecredits/voicecredits/internal/model"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	cat := DefaultCatalog()
	require.NoError(t, cat.Validate())

	tests := []struct {
		id      string
		minutes int
	}{
		{"starter", 10},
		{"standard", 30},
		{"pro", 60},
	}
	for _, tt := range tests {
		pkg, err := cat.PackageByID(tt.id)
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.minutes, pkg.Minutes, tt.id)
		assert.Empty(t, pkg.PriceID, tt.id)
	}

	basic, err := cat.PlanForTier(model.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, 60, basic.MonthlyMinutes)

	pro, err := cat.PlanByID("professional")
	require.NoError(t, err)
	assert.Equal(t, 200, pro.MonthlyMinutes)

	unlimited, err := cat.PlanByID("unlimited")
	require.NoError(t, err)
	assert.True(t, unlimited.Unlimited())

	_, err = cat.PackageByID("enterprise")
	assert.ErrorIs(t, err, ErrUnknownPackage)
	_, err = cat.PlanForTier(model.TierNone)
	assert.ErrorIs(t, err, ErrUnknownPlan)
	_, err = cat.PlanByPriceID("")
	assert.ErrorIs(t, err, ErrUnknownPlan, "unpriced plans never match an empty price id")
}

func TestLoadCatalog_EmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cat, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), cat)
}

func TestLoadCatalog_Override(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `
[[packages]]
id = "starter"
price_id = "price_starter"

[[packages]]
id = "bulk"
name = "Bulk"
minutes = 500
price_id = "price_bulk"
amount_cents = 30000
currency = "usd"

[[plans]]
id = "professional"
monthly_minutes = 250
price_id = "price_pro_monthly"
`)

	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	starter, err := cat.PackageByID("starter")
	require.NoError(t, err)
	assert.Equal(t, "price_starter", starter.PriceID)
	assert.Equal(t, 10, starter.Minutes, "unset fields keep defaults")
	assert.Equal(t, "Starter", starter.Name)

	bulk, err := cat.PackageByID("bulk")
	require.NoError(t, err)
	assert.Equal(t, 500, bulk.Minutes)

	plan, err := cat.PlanByID("professional")
	require.NoError(t, err)
	assert.Equal(t, 250, plan.MonthlyMinutes)
	assert.Equal(t, model.TierProfessional, plan.Tier)
	assert.Equal(t, "price_pro_monthly", plan.PriceID)

	byPrice, err := cat.PlanByPriceID("price_pro_monthly")
	require.NoError(t, err)
	assert.Equal(t, "professional", byPrice.ID)
}

func TestLoadCatalog_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "malformed toml",
			content: `[[packages]` + "\n",
		},
		{
			name:    "unknown field",
			content: "[[packages]]\nid = \"starter\"\nseconds = 10\n",
		},
		{
			name:    "new package without minutes",
			content: "[[packages]]\nid = \"empty\"\nprice_id = \"price_x\"\n",
		},
		{
			name:    "plan with invalid tier",
			content: "[[plans]]\nid = \"gold\"\ntier = \"gold\"\nmonthly_minutes = 10\n",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadCatalog(writeCatalog(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
