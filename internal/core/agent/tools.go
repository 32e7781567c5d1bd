package agent

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Tool names exposed to the model
const (
	ToolAddToCart           = "add_to_cart"
	ToolRemoveFromCart      = "remove_from_cart"
	ToolViewCart            = "view_cart"
	ToolCheckout            = "checkout"
	ToolShowProductImage    = "show_product_image"
	ToolCollectContactInfo  = "collect_contact_info"
	ToolRequestHumanSupport = "request_human_support"
	ToolRememberPreference  = "remember_preference"
)

// ErrUnknownTool is returned by ParseToolCall for names outside the tool set
var ErrUnknownTool = errors.New("Unknown tool")

// ToolRequest is the closed set of tool calls the executor understands.
// Every variant is handled by Executor.Execute.
type ToolRequest interface {
	ToolName() string
	isToolRequest()
}

// ProductRef identifies a product by id or, failing that, by name
type ProductRef struct {
	ID   int64
	Name string
}

type AddToCart struct {
	Product  ProductRef
	Quantity int
	Variant  *string
}

type RemoveFromCart struct {
	Product  ProductRef
	Quantity int // 0 removes the whole line
	Variant  *string
}

type ViewCart struct{}

type Checkout struct {
	Phone   *string
	Address *string
	Notes   *string
}

type ShowProductImage struct {
	Products []ProductRef
	Confirm  bool // Disambiguation among near-matches
}

type CollectContactInfo struct {
	Name    *string
	Phone   *string
	Address *string
}

type RequestHumanSupport struct {
	Reason string
}

type RememberPreference struct {
	Key   string
	Value string
}

func (AddToCart) ToolName() string           { return ToolAddToCart }
func (RemoveFromCart) ToolName() string      { return ToolRemoveFromCart }
func (ViewCart) ToolName() string            { return ToolViewCart }
func (Checkout) ToolName() string            { return ToolCheckout }
func (ShowProductImage) ToolName() string    { return ToolShowProductImage }
func (CollectContactInfo) ToolName() string  { return ToolCollectContactInfo }
func (RequestHumanSupport) ToolName() string { return ToolRequestHumanSupport }
func (RememberPreference) ToolName() string  { return ToolRememberPreference }

func (AddToCart) isToolRequest()           {}
func (RemoveFromCart) isToolRequest()      {}
func (ViewCart) isToolRequest()            {}
func (Checkout) isToolRequest()            {}
func (ShowProductImage) isToolRequest()    {}
func (CollectContactInfo) isToolRequest()  {}
func (RequestHumanSupport) isToolRequest() {}
func (RememberPreference) isToolRequest()  {}

// ParseToolCall converts a model tool call into its typed request
func ParseToolCall(name string, args map[string]any) (ToolRequest, error) {
	switch name {
	case ToolAddToCart:
		qty := argInt(args, "quantity")
		if qty == 0 {
			qty = 1
		}
		return AddToCart{Product: argProductRef(args), Quantity: qty, Variant: argOptString(args, "variant")}, nil
	case ToolRemoveFromCart:
		return RemoveFromCart{Product: argProductRef(args), Quantity: argInt(args, "quantity"), Variant: argOptString(args, "variant")}, nil
	case ToolViewCart:
		return ViewCart{}, nil
	case ToolCheckout:
		return Checkout{
			Phone:   argOptString(args, "phone"),
			Address: argOptString(args, "address"),
			Notes:   argOptString(args, "notes"),
		}, nil
	case ToolShowProductImage:
		req := ShowProductImage{Confirm: argString(args, "mode") == "confirm"}
		for _, id := range argInt64List(args, "product_ids") {
			req.Products = append(req.Products, ProductRef{ID: id})
		}
		for _, n := range argStringList(args, "product_names") {
			req.Products = append(req.Products, ProductRef{Name: n})
		}
		if len(req.Products) == 0 {
			if ref := argProductRef(args); ref.ID != 0 || ref.Name != "" {
				req.Products = append(req.Products, ref)
			}
		}
		return req, nil
	case ToolCollectContactInfo:
		return CollectContactInfo{
			Name:    argOptString(args, "name"),
			Phone:   argOptString(args, "phone"),
			Address: argOptString(args, "address"),
		}, nil
	case ToolRequestHumanSupport:
		return RequestHumanSupport{Reason: argString(args, "reason")}, nil
	case ToolRememberPreference:
		return RememberPreference{Key: argString(args, "key"), Value: argString(args, "value")}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}

// ToolDefinitions returns the declarations sent to the model
func ToolDefinitions() []ToolDefinition {
	productProps := func(extra map[string]*Schema) map[string]*Schema {
		props := map[string]*Schema{
			"product_id":   {Type: "integer", Description: "Catalog product id"},
			"product_name": {Type: "string", Description: "Product name when the id is unknown"},
			"variant":      {Type: "string", Description: "Chosen variant, e.g. size or color"},
		}
		for k, v := range extra {
			props[k] = v
		}
		return props
	}

	return []ToolDefinition{
		{
			Name:        ToolAddToCart,
			Description: "Add a product to the customer's cart.",
			Parameters: &Schema{Type: "object", Properties: productProps(map[string]*Schema{
				"quantity": {Type: "integer", Description: "Quantity, defaults to 1"},
			})},
		},
		{
			Name:        ToolRemoveFromCart,
			Description: "Remove a product (or some of its quantity) from the cart.",
			Parameters: &Schema{Type: "object", Properties: productProps(map[string]*Schema{
				"quantity": {Type: "integer", Description: "Quantity to remove, omit to remove the line"},
			})},
		},
		{
			Name:        ToolViewCart,
			Description: "Show the current cart contents and total.",
		},
		{
			Name:        ToolCheckout,
			Description: "Create an order from the cart once the customer confirmed it.",
			Parameters: &Schema{Type: "object", Properties: map[string]*Schema{
				"phone":   {Type: "string", Description: "Contact phone"},
				"address": {Type: "string", Description: "Delivery address"},
				"notes":   {Type: "string", Description: "Order notes"},
			}},
		},
		{
			Name:        ToolShowProductImage,
			Description: "Send product photos. Use mode=confirm to ask which of several similar products the customer means.",
			Parameters: &Schema{Type: "object", Properties: map[string]*Schema{
				"product_ids":   {Type: "array", Items: &Schema{Type: "integer"}},
				"product_names": {Type: "array", Items: &Schema{Type: "string"}},
				"mode":          {Type: "string", Enum: []string{"single", "gallery", "confirm"}},
			}},
		},
		{
			Name:        ToolCollectContactInfo,
			Description: "Save the customer's name, phone or delivery address.",
			Parameters: &Schema{Type: "object", Properties: map[string]*Schema{
				"name":    {Type: "string"},
				"phone":   {Type: "string"},
				"address": {Type: "string"},
			}},
		},
		{
			Name:        ToolRequestHumanSupport,
			Description: "Hand the conversation to shop staff.",
			Parameters: &Schema{Type: "object", Properties: map[string]*Schema{
				"reason": {Type: "string"},
			}, Required: []string{"reason"}},
		},
		{
			Name:        ToolRememberPreference,
			Description: "Remember a durable customer preference (size, favourite color, ...).",
			Parameters: &Schema{Type: "object", Properties: map[string]*Schema{
				"key":   {Type: "string"},
				"value": {Type: "string"},
			}, Required: []string{"key", "value"}},
		},
	}
}

// ============================================================================
// Argument coercion (model arguments arrive as loosely typed JSON)
// ============================================================================

func argProductRef(args map[string]any) ProductRef {
	return ProductRef{ID: int64(argInt(args, "product_id")), Name: argString(args, "product_name")}
}

func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func argOptString(args map[string]any, key string) *string {
	if s := argString(args, key); s != "" {
		return &s
	}
	return nil
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(math.Round(v))
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

func argInt64List(args map[string]any, key string) []int64 {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		if n := argInt(map[string]any{"v": item}, "v"); n != 0 {
			out = append(out, int64(n))
		}
	}
	return out
}

func argStringList(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
