package service

import (
	"context"
	"testing"

	"payment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPluginFixture(existing ...*models.Plugin) (*PluginService, *fakePlugins, *fakeInvalidator, *fakePublisher) {
	plugins := newFakePlugins(existing...)
	inv := &fakeInvalidator{}
	pub := &fakePublisher{}
	return NewPluginService(plugins, inv, pub), plugins, inv, pub
}

func TestRegisterPlugin(t *testing.T) {
	svc, _, inv, pub := newPluginFixture()

	p, err := svc.Register(context.Background(), RegisterPluginInput{
		Name:       "stripe_card",
		PluginType: models.PluginTypePaymentProcessor,
		Path:       "payment/stripe_card",
		IsActive:   true,
	})
	require.NoError(t, err)

	assert.NotZero(t, p.ID)
	assert.Equal(t, []string{"stripe_card"}, inv.ids)
	require.Len(t, pub.plugins, 1)
	assert.Equal(t, models.PluginActionRegistered, pub.plugins[0].Action)
	assert.Equal(t, models.EventTypePluginChanged, pub.plugins[0].EventType)
}

func TestRegisterPluginValidation(t *testing.T) {
	tests := []struct {
		name  string
		input RegisterPluginInput
	}{
		{"upper case name", RegisterPluginInput{Name: "Stripe", PluginType: models.PluginTypePaymentProcessor, Path: "payment/stripe_card"}},
		{"dotted name", RegisterPluginInput{Name: "stripe.card", PluginType: models.PluginTypePaymentProcessor, Path: "payment/stripe_card"}},
		{"unknown type", RegisterPluginInput{Name: "stripe", PluginType: "WIDGET", Path: "payment/stripe_card"}},
		{"missing path", RegisterPluginInput{Name: "stripe", PluginType: models.PluginTypePaymentProcessor}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, plugins, _, pub := newPluginFixture()

			_, err := svc.Register(context.Background(), tt.input)

			assert.ErrorIs(t, err, ErrInvalidPlugin)
			assert.Empty(t, plugins.plugins)
			assert.Empty(t, pub.plugins)
		})
	}
}

func TestRegisterPluginConflicts(t *testing.T) {
	svc, _, _, _ := newPluginFixture(&models.Plugin{
		Name: "freecurrencyapi", PluginType: models.PluginTypeCurrencyBackend, Path: "currency/freecurrencyapi", IsActive: true,
	})

	_, err := svc.Register(context.Background(), RegisterPluginInput{
		Name: "freecurrencyapi", PluginType: models.PluginTypeCurrencyBackend, Path: "currency/freecurrencyapi",
	})
	assert.ErrorIs(t, err, ErrPluginExists)

	_, err = svc.Register(context.Background(), RegisterPluginInput{
		Name: "static", PluginType: models.PluginTypeCurrencyBackend, Path: "currency/static", IsActive: true,
	})
	assert.ErrorIs(t, err, ErrSingletonActive)

	// inactive registrations of a singleton type are fine
	_, err = svc.Register(context.Background(), RegisterPluginInput{
		Name: "static", PluginType: models.PluginTypeCurrencyBackend, Path: "currency/static",
	})
	assert.NoError(t, err)
}

func TestActivateSingletonPlugin(t *testing.T) {
	svc, _, inv, pub := newPluginFixture(
		&models.Plugin{Name: "freecurrencyapi", PluginType: models.PluginTypeCurrencyBackend, IsActive: true},
		&models.Plugin{Name: "static", PluginType: models.PluginTypeCurrencyBackend},
	)

	_, err := svc.Activate(context.Background(), "static")
	assert.ErrorIs(t, err, ErrSingletonActive)

	_, err = svc.Deactivate(context.Background(), "freecurrencyapi")
	require.NoError(t, err)

	p, err := svc.Activate(context.Background(), "static")
	require.NoError(t, err)
	assert.True(t, p.IsActive)

	assert.Equal(t, []string{"freecurrencyapi", "static"}, inv.ids)
	require.Len(t, pub.plugins, 2)
	assert.Equal(t, models.PluginActionDeactivated, pub.plugins[0].Action)
	assert.Equal(t, models.PluginActionActivated, pub.plugins[1].Action)
}

func TestActivateNonSingletonTypesAllowsMany(t *testing.T) {
	svc, _, _, _ := newPluginFixture(
		&models.Plugin{Name: "stripe_card", PluginType: models.PluginTypePaymentProcessor, IsActive: true},
		&models.Plugin{Name: "cash_on_delivery", PluginType: models.PluginTypePaymentProcessor},
	)

	_, err := svc.Activate(context.Background(), "cash_on_delivery")
	assert.NoError(t, err)
}

func TestDeletePlugin(t *testing.T) {
	svc, plugins, inv, pub := newPluginFixture(
		&models.Plugin{Name: "cash_on_delivery", PluginType: models.PluginTypePaymentProcessor, IsActive: true},
	)

	require.NoError(t, svc.Delete(context.Background(), "cash_on_delivery"))
	assert.Empty(t, plugins.plugins)
	assert.Equal(t, []string{"cash_on_delivery"}, inv.ids)
	require.Len(t, pub.plugins, 1)
	assert.Equal(t, models.PluginActionDeleted, pub.plugins[0].Action)

	err := svc.Delete(context.Background(), "cash_on_delivery")
	assert.ErrorIs(t, err, ErrPluginNotFound)

	_, err = svc.Activate(context.Background(), "cash_on_delivery")
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

func TestListPlugins(t *testing.T) {
	svc, _, _, _ := newPluginFixture(
		&models.Plugin{Name: "stripe_card", PluginType: models.PluginTypePaymentProcessor},
		&models.Plugin{Name: "static", PluginType: models.PluginTypeCurrencyBackend},
	)

	all, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	backends, err := svc.List(context.Background(), models.PluginTypeCurrencyBackend)
	require.NoError(t, err)
	require.Len(t, backends, 1)
	assert.Equal(t, "static", backends[0].Name)
}
