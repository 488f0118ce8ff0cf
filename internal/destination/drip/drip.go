// Package drip sends e-commerce events to Drip through its webhook
// collector, reshaped the way Drip's workflows expect them.
package drip

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/vincentbai/eventfan/internal/destination/webhook"
	"github.com/vincentbai/eventfan/internal/mapping"
	"github.com/vincentbai/eventfan/internal/models"
)

const OrderCompletedEvent = "Order Completed"

var ErrNoOrderValue = errors.New("order has no total or revenue")

// DefaultName is used when New is given no name.
const DefaultName = "drip"

// New returns a webhook destination carrying Mappings.
func New(name, endpoint string, client *http.Client, logger *slog.Logger) *webhook.Webhook {
	if name == "" {
		name = DefaultName
	}
	return webhook.New(webhook.Config{
		Name:     name,
		Endpoint: endpoint,
		Client:   client,
		Mappings: Mappings(),
	}, logger)
}

func Mappings() mapping.Table {
	return mapping.Table{
		OrderCompletedEvent: OrderCompleted,
	}
}

// passthrough lists the order fields kept as Drip custom properties.
var passthrough = []string{
	"affiliation", "coupon", "currency", "discount", "order_id", "shipping", "tax",
}

// OrderCompleted converts the order value and product prices to cents and
// flattens products into product_<n>_<field> properties, since Drip's
// templates cannot read nested values.
func OrderCompleted(event models.TrackEvent, _ *models.User) (*models.TrackEvent, error) {
	props := event.Properties

	value, ok := number(props["total"])
	if !ok || value == 0 {
		value, ok = number(props["revenue"])
	}
	if !ok {
		return nil, ErrNoOrderValue
	}

	out := models.Properties{"value": cents(value)}
	for _, key := range passthrough {
		if v, present := props[key]; present {
			out[key] = v
		}
	}

	products, err := productList(props["products"])
	if err != nil {
		return nil, err
	}
	if products != nil {
		converted := make([]any, 0, len(products))
		for i, product := range products {
			for field, v := range product {
				out[fmt.Sprintf("product_%d_%s", i+1, field)] = v
			}
			item := make(map[string]any, len(product))
			for field, v := range product {
				item[field] = v
			}
			if price, ok := number(product["price"]); ok {
				item["price"] = cents(price)
			}
			converted = append(converted, item)
		}
		out["products"] = converted
	}

	return &models.TrackEvent{
		Name:       OrderCompletedEvent,
		Properties: out,
		Options:    event.Options,
	}, nil
}

func cents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func productList(v any) ([]map[string]any, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		return list, nil
	case []any:
		out := make([]map[string]any, 0, len(list))
		for i, item := range list {
			product, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("product %d is %T, not an object", i+1, item)
			}
			out = append(out, product)
		}
		return out, nil
	}
	return nil, fmt.Errorf("products is %T, not a list", v)
}
