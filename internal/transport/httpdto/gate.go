package httpdto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"rxgate/internal/domain/commerce"
	rxgate_errors "rxgate/pkg/errors"

	"github.com/google/uuid"
)

type CartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// IDs parses the item's identifiers. Blank ids come back invalid.
func (r CartItemRequest) IDs() (product uuid.NullUUID, variant uuid.NullUUID, err error) {
	if product, err = parseNullUUID(r.ProductID); err != nil {
		return product, variant, fmt.Errorf("%w: product_id: %v", rxgate_errors.ErrInvalidInput, err)
	}
	if variant, err = parseNullUUID(r.VariantID); err != nil {
		return product, variant, fmt.Errorf("%w: variant_id: %v", rxgate_errors.ErrInvalidInput, err)
	}
	return product, variant, nil
}

func parseNullUUID(s string) (uuid.NullUUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

type CartCheckRequest struct {
	Items []CartItemRequest `json:"items"`
}

// ParseCartPayload extracts every candidate line item from a cart mutation
// body. Objects are searched at any depth. A key counts as an id field when it
// folds to product_id or variant_id ignoring case, underscores and dashes, and
// every occurrence is collected, duplicates included, so the result covers
// whatever reading the upstream applies. An empty body yields no items.
func ParseCartPayload(body []byte) ([]CartItemRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var items []CartItemRequest
	if err := walkValue(dec, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", rxgate_errors.ErrInvalidInput, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after cart payload", rxgate_errors.ErrInvalidInput)
	}
	return items, nil
}

type idField int

const (
	notID idField = iota
	productIDField
	variantIDField
)

func classifyKey(key string) idField {
	folded := strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return -1
		}
		return r
	}, strings.ToLower(key))
	switch folded {
	case "productid":
		return productIDField
	case "variantid":
		return variantIDField
	}
	return notID
}

func walkValue(dec *json.Decoder, items *[]CartItemRequest) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		return walkObject(dec, items)
	case '[':
		for dec.More() {
			if err := walkValue(dec, items); err != nil {
				return err
			}
		}
		_, err = dec.Token()
		return err
	}
	return fmt.Errorf("unexpected %q", delim)
}

func walkObject(dec *json.Decoder, items *[]CartItemRequest) error {
	var products, variants []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		field := classifyKey(key)
		if field == notID {
			if err := walkValue(dec, items); err != nil {
				return err
			}
			continue
		}
		val, err := dec.Token()
		if err != nil {
			return err
		}
		var s string
		switch v := val.(type) {
		case nil:
			continue
		case string:
			s = strings.TrimSpace(v)
		default:
			return fmt.Errorf("%s must be a string", key)
		}
		if s == "" {
			continue
		}
		if field == productIDField {
			products = append(products, s)
		} else {
			variants = append(variants, s)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	if len(products) <= 1 && len(variants) <= 1 {
		if len(products)+len(variants) > 0 {
			*items = append(*items, CartItemRequest{ProductID: first(products), VariantID: first(variants)})
		}
		return nil
	}
	for _, p := range products {
		*items = append(*items, CartItemRequest{ProductID: p})
	}
	for _, v := range variants {
		*items = append(*items, CartItemRequest{VariantID: v})
	}
	return nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

type OrderCheckRequest struct {
	Status string `json:"status" binding:"required"`
}

type OrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type OrderResponse struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	Status     string `json:"status"`
	UpdatedAt  string `json:"updated_at"`
}

func FromOrder(o commerce.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID.String(),
		BusinessID: o.BusinessID.String(),
		Status:     string(o.Status),
		UpdatedAt:  o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
