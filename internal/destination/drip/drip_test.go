package drip

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/vincentbai/eventfan/internal/models"
)

func TestOrderCompletedConvertsToCents(t *testing.T) {
	event := models.TrackEvent{
		Name: OrderCompletedEvent,
		Properties: models.Properties{
			"order_id": "o-1",
			"total":    49.99,
			"currency": "USD",
			"coupon":   "SPRING",
			"ignored":  "not forwarded",
			"products": []any{
				map[string]any{"sku": "a", "price": 19.99},
				map[string]any{"sku": "b", "price": 30},
			},
		},
	}

	got, err := OrderCompleted(event, nil)
	if err != nil {
		t.Fatalf("OrderCompleted() error: %v", err)
	}

	props := got.Properties
	if props["value"] != int64(4999) {
		t.Errorf("value = %v (%T), want 4999", props["value"], props["value"])
	}
	if props["order_id"] != "o-1" || props["currency"] != "USD" || props["coupon"] != "SPRING" {
		t.Errorf("passthrough fields = %+v", props)
	}
	if _, ok := props["ignored"]; ok {
		t.Error("unexpected field forwarded")
	}
	if props["product_1_sku"] != "a" || props["product_2_price"] != 30 {
		t.Errorf("flattened products = %v, %v", props["product_1_sku"], props["product_2_price"])
	}

	products := props["products"].([]any)
	if products[0].(map[string]any)["price"] != int64(1999) {
		t.Errorf("product price = %v, want 1999", products[0].(map[string]any)["price"])
	}
	if event.Properties["products"].([]any)[0].(map[string]any)["price"] != 19.99 {
		t.Error("input product mutated")
	}
}

func TestOrderCompletedFallsBackToRevenue(t *testing.T) {
	tests := []struct {
		name  string
		props models.Properties
		want  int64
	}{
		{name: "revenue only", props: models.Properties{"revenue": 12.5}, want: 1250},
		{name: "zero total", props: models.Properties{"total": 0.0, "revenue": 3}, want: 300},
		{name: "json number", props: models.Properties{"total": json.Number("1.01")}, want: 101},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderCompleted(models.TrackEvent{Name: OrderCompletedEvent, Properties: tt.props}, nil)
			if err != nil {
				t.Fatalf("OrderCompleted() error: %v", err)
			}
			if got.Properties["value"] != tt.want {
				t.Errorf("value = %v, want %d", got.Properties["value"], tt.want)
			}
		})
	}
}

func TestOrderCompletedErrors(t *testing.T) {
	tests := []struct {
		name  string
		props models.Properties
		want  error
	}{
		{name: "no value", props: models.Properties{"order_id": "o-1"}, want: ErrNoOrderValue},
		{name: "bad products", props: models.Properties{"total": 1.0, "products": "many"}},
		{name: "bad product item", props: models.Properties{"total": 1.0, "products": []any{"sku"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderCompleted(models.TrackEvent{Name: OrderCompletedEvent, Properties: tt.props}, nil)
			if err == nil {
				t.Fatalf("Expected error, got %+v", got)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewCarriesMappings(t *testing.T) {
	d := New("", "http://127.0.0.1:1", nil, nil)

	if d.Name() != DefaultName {
		t.Errorf("Name() = %s, want %s", d.Name(), DefaultName)
	}
	if _, ok := d.EventMappings()[OrderCompletedEvent]; !ok {
		t.Error("Expected Order Completed mapping")
	}
}

func TestNewKeepsGivenName(t *testing.T) {
	d := New("drip-eu", "http://127.0.0.1:1", nil, nil)

	if d.Name() != "drip-eu" {
		t.Errorf("Name() = %s, want drip-eu", d.Name())
	}
}
