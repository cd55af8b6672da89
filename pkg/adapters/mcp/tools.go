package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/tradedesk/pkg/adapters/openalgo"
	"github.com/aretw0/tradedesk/pkg/domain"
	"github.com/aretw0/tradedesk/pkg/ports"
	"github.com/aretw0/tradedesk/pkg/symbol"
	"github.com/mark3labs/mcp-go/mcp"
)

// Shared argument options.
var (
	symbolArg     = mcp.Description("Trading symbol (e.g., SBIN, RELIANCE)")
	exchangeArg   = mcp.Description("Exchange (NSE, BSE, NFO, MCX, ...)")
	actionArg     = mcp.Description("BUY or SELL")
	priceTypeArg  = mcp.Description("MARKET, LIMIT, SL, SL-M")
	productArg    = mcp.Description("MIS, CNC, NRML")
	strategyArg   = mcp.Description("Strategy name")
	orderIDArg    = mcp.Description("Broker order ID")
	quantityArg   = mcp.Description("Order quantity")
	priceArg      = mcp.Description("Order price (LIMIT and SL orders)")
	triggerArg    = mcp.Description("Trigger price (SL and SL-M orders)")
	disclosedArg  = mcp.Description("Disclosed quantity")
	basketItemDoc = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol":    map[string]any{"type": "string"},
			"exchange":  map[string]any{"type": "string"},
			"action":    map[string]any{"type": "string"},
			"quantity":  map[string]any{"type": "integer"},
			"pricetype": map[string]any{"type": "string"},
			"product":   map[string]any{"type": "string"},
		},
		"required": []string{"symbol", "exchange", "action", "quantity"},
	}
)

func (s *Server) registerTools() {
	s.registerOrderTools()
	s.registerAccountTools()
	s.registerMarketTools()
	s.registerSymbolTools()
}

func (s *Server) registerOrderTools() {
	s.add(mcp.NewTool("place_order",
		mcp.WithDescription("Place a new order."),
		mcp.WithString("symbol", mcp.Required(), symbolArg),
		mcp.WithNumber("quantity", mcp.Required(), quantityArg),
		mcp.WithString("action", mcp.Required(), actionArg, mcp.Enum("BUY", "SELL")),
		mcp.WithString("exchange", exchangeArg, mcp.DefaultString("NSE")),
		mcp.WithString("price_type", priceTypeArg, mcp.DefaultString("MARKET")),
		mcp.WithString("product", productArg, mcp.DefaultString("MIS")),
		mcp.WithString("strategy", strategyArg),
		mcp.WithNumber("price", priceArg),
		mcp.WithNumber("trigger_price", triggerArg),
		mcp.WithNumber("disclosed_quantity", disclosedArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "placing order"
		sym, err := req.RequireString("symbol")
		if err != nil {
			return failure(verb, err)
		}
		action, err := req.RequireString("action")
		if err != nil {
			return failure(verb, err)
		}
		qty, err := req.RequireInt("quantity")
		if err != nil {
			return failure(verb, err)
		}
		res := s.call(ctx, openalgo.OpPlaceOrder, verb, ports.Params{
			"strategy":           req.GetString("strategy", s.strategy),
			"symbol":             upper(sym),
			"action":             upper(action),
			"exchange":           upper(req.GetString("exchange", "NSE")),
			"pricetype":          upper(req.GetString("price_type", "MARKET")),
			"product":            upper(req.GetString("product", "MIS")),
			"quantity":           qty,
			"price":              req.GetFloat("price", 0),
			"trigger_price":      req.GetFloat("trigger_price", 0),
			"disclosed_quantity": req.GetInt("disclosed_quantity", 0),
		})
		if res.OK {
			res.Value = "Order placed: " + res.Value
		}
		return res
	})

	s.add(mcp.NewTool("place_smart_order",
		mcp.WithDescription("Place a smart order that takes the current position size into account."),
		mcp.WithString("symbol", mcp.Required(), symbolArg),
		mcp.WithString("action", mcp.Required(), actionArg, mcp.Enum("BUY", "SELL")),
		mcp.WithNumber("quantity", mcp.Required(), quantityArg),
		mcp.WithNumber("position_size", mcp.Required(), mcp.Description("Target position size")),
		mcp.WithString("exchange", exchangeArg, mcp.DefaultString("NSE")),
		mcp.WithString("price_type", priceTypeArg, mcp.DefaultString("MARKET")),
		mcp.WithString("product", productArg, mcp.DefaultString("MIS")),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "placing smart order"
		sym, err := req.RequireString("symbol")
		if err != nil {
			return failure(verb, err)
		}
		action, err := req.RequireString("action")
		if err != nil {
			return failure(verb, err)
		}
		qty, err := req.RequireInt("quantity")
		if err != nil {
			return failure(verb, err)
		}
		size, err := req.RequireInt("position_size")
		if err != nil {
			return failure(verb, err)
		}
		return s.call(ctx, openalgo.OpPlaceSmartOrder, verb, ports.Params{
			"strategy":      req.GetString("strategy", s.strategy),
			"symbol":        upper(sym),
			"action":        upper(action),
			"exchange":      upper(req.GetString("exchange", "NSE")),
			"pricetype":     upper(req.GetString("price_type", "MARKET")),
			"product":       upper(req.GetString("product", "MIS")),
			"quantity":      qty,
			"position_size": size,
		})
	})

	s.add(mcp.NewTool("place_basket_order",
		mcp.WithDescription("Place several orders at once. Each order needs symbol, exchange, action and quantity; pricetype and product default to MARKET and MIS."),
		mcp.WithArray("orders", mcp.Required(), mcp.Description("List of orders"), mcp.Items(basketItemDoc)),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "placing basket order"
		orders, err := basketOrders(req.GetArguments()["orders"])
		if err != nil {
			return failure(verb, err)
		}
		s.logger.Info("placing basket order", "orders", len(orders))
		return s.call(ctx, openalgo.OpBasketOrder, verb, ports.Params{
			"strategy": req.GetString("strategy", s.strategy),
			"orders":   orders,
		})
	})

	s.add(mcp.NewTool("place_split_order",
		mcp.WithDescription("Split a large order into several smaller orders to reduce market impact."),
		mcp.WithString("symbol", mcp.Required(), symbolArg),
		mcp.WithString("exchange", mcp.Required(), exchangeArg),
		mcp.WithString("action", mcp.Required(), actionArg, mcp.Enum("BUY", "SELL")),
		mcp.WithNumber("quantity", mcp.Required(), mcp.Description("Total order quantity")),
		mcp.WithNumber("splitsize", mcp.Required(), mcp.Description("Size of each split order")),
		mcp.WithString("price_type", priceTypeArg, mcp.DefaultString("MARKET")),
		mcp.WithString("product", productArg, mcp.DefaultString("MIS")),
		mcp.WithNumber("price", priceArg),
		mcp.WithNumber("trigger_price", triggerArg),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "placing split order"
		sym, err := req.RequireString("symbol")
		if err != nil {
			return failure(verb, err)
		}
		exchange, err := req.RequireString("exchange")
		if err != nil {
			return failure(verb, err)
		}
		action, err := req.RequireString("action")
		if err != nil {
			return failure(verb, err)
		}
		qty, err := req.RequireInt("quantity")
		if err != nil {
			return failure(verb, err)
		}
		split, err := req.RequireInt("splitsize")
		if err != nil {
			return failure(verb, err)
		}
		priceType := upper(req.GetString("price_type", "MARKET"))
		params := ports.Params{
			"strategy":  req.GetString("strategy", s.strategy),
			"symbol":    upper(sym),
			"exchange":  upper(exchange),
			"action":    upper(action),
			"quantity":  qty,
			"splitsize": split,
			"pricetype": priceType,
			"product":   upper(req.GetString("product", "MIS")),
		}
		if price := req.GetFloat("price", 0); price != 0 && (priceType == "LIMIT" || priceType == "SL") {
			params["price"] = price
		}
		if trigger := req.GetFloat("trigger_price", 0); trigger != 0 && (priceType == "SL" || priceType == "SL-M") {
			params["trigger_price"] = trigger
		}
		return s.call(ctx, openalgo.OpSplitOrder, verb, params)
	})

	s.add(mcp.NewTool("modify_order",
		mcp.WithDescription("Modify an existing order."),
		mcp.WithString("order_id", mcp.Required(), orderIDArg),
		mcp.WithString("symbol", mcp.Required(), symbolArg),
		mcp.WithNumber("quantity", mcp.Required(), mcp.Description("New quantity")),
		mcp.WithNumber("price", mcp.Required(), mcp.Description("New price")),
		mcp.WithString("action", actionArg),
		mcp.WithString("exchange", exchangeArg),
		mcp.WithString("price_type", priceTypeArg),
		mcp.WithString("product", productArg),
		mcp.WithNumber("trigger_price", triggerArg),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "modifying order"
		orderID, err := req.RequireString("order_id")
		if err != nil {
			return failure(verb, err)
		}
		sym, err := req.RequireString("symbol")
		if err != nil {
			return failure(verb, err)
		}
		qty, err := req.RequireInt("quantity")
		if err != nil {
			return failure(verb, err)
		}
		price, err := req.RequireFloat("price")
		if err != nil {
			return failure(verb, err)
		}
		params := ports.Params{
			"orderid":  orderID,
			"strategy": req.GetString("strategy", s.strategy),
			"symbol":   sym,
			"quantity": qty,
			"price":    price,
		}
		for arg, key := range map[string]string{
			"action":     "action",
			"exchange":   "exchange",
			"price_type": "pricetype",
			"product":    "product",
		} {
			if v := req.GetString(arg, ""); v != "" {
				params[key] = upper(v)
			}
		}
		if trigger, ok := req.GetArguments()["trigger_price"]; ok && trigger != nil {
			params["trigger_price"] = req.GetFloat("trigger_price", 0)
		}
		s.logger.Info("modifying order", "order_id", orderID)
		return s.call(ctx, openalgo.OpModifyOrder, verb, params)
	})

	s.add(mcp.NewTool("cancel_order",
		mcp.WithDescription("Cancel a specific order by ID."),
		mcp.WithString("order_id", mcp.Required(), orderIDArg),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "cancelling order"
		orderID, err := req.RequireString("order_id")
		if err != nil {
			return failure(verb, err)
		}
		return s.call(ctx, openalgo.OpCancelOrder, verb, ports.Params{
			"orderid":  orderID,
			"strategy": req.GetString("strategy", s.strategy),
		})
	})

	s.add(mcp.NewTool("cancel_all_orders",
		mcp.WithDescription("Cancel all open orders for the strategy."),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		return s.call(ctx, openalgo.OpCancelAllOrder, "cancelling all orders", ports.Params{
			"strategy": req.GetString("strategy", s.strategy),
		})
	})

	s.add(mcp.NewTool("get_order_status",
		mcp.WithDescription("Get the status of a specific order by ID."),
		mcp.WithString("order_id", mcp.Required(), orderIDArg),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "getting order status"
		orderID, err := req.RequireString("order_id")
		if err != nil {
			return failure(verb, err)
		}
		return s.call(ctx, openalgo.OpOrderStatus, verb, ports.Params{
			"orderid":  orderID,
			"strategy": req.GetString("strategy", s.strategy),
		})
	})
}

func (s *Server) registerAccountTools() {
	s.add(mcp.NewTool("get_open_position",
		mcp.WithDescription("Get the open position for a symbol."),
		mcp.WithString("symbol", mcp.Required(), symbolArg),
		mcp.WithString("exchange", mcp.Required(), exchangeArg),
		mcp.WithString("product", mcp.Required(), productArg),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "getting open position"
		args, err := requireStrings(req, "symbol", "exchange", "product")
		if err != nil {
			return failure(verb, err)
		}
		return s.call(ctx, openalgo.OpOpenPosition, verb, ports.Params{
			"strategy": req.GetString("strategy", s.strategy),
			"symbol":   upper(args[0]),
			"exchange": upper(args[1]),
			"product":  upper(args[2]),
		})
	})

	s.add(mcp.NewTool("close_all_positions",
		mcp.WithDescription("Close all open positions for the strategy."),
		mcp.WithString("strategy", strategyArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		return s.call(ctx, openalgo.OpClosePosition, "closing all positions", ports.Params{
			"strategy": req.GetString("strategy", s.strategy),
		})
	})

	s.addQuery("get_position_book", "Get details of all current positions.", openalgo.OpPositionBook, "getting position book")
	s.addQuery("get_order_book", "Get details of all orders.", openalgo.OpOrderBook, "getting order book")
	s.addQuery("get_orders", "Get all orders for the current strategy.", openalgo.OpOrderBook, "getting orders")
	s.addQuery("get_trade_book", "Get details of all executed trades.", openalgo.OpTradeBook, "getting trade book")
	s.addQuery("get_holdings", "Get the long-term holdings.", openalgo.OpHoldings, "fetching holdings")
	s.addQuery("get_funds", "Get available funds and margin information.", openalgo.OpFunds, "getting funds")
}

func (s *Server) registerMarketTools() {
	s.addSymbolQuery("get_quote", "Get market quotes for a symbol.", openalgo.OpQuotes, "getting quotes")
	s.addSymbolQuery("get_depth", "Get market depth for a symbol.", openalgo.OpDepth, "getting depth")
	s.addSymbolQuery("get_symbol_metadata", "Get metadata for a specific symbol.", openalgo.OpSymbol, "getting symbol metadata")

	s.add(mcp.NewTool("get_history",
		mcp.WithDescription("Get historical candles for a symbol."),
		mcp.WithString("symbol", mcp.Required(), symbolArg),
		mcp.WithString("exchange", mcp.Required(), exchangeArg),
		mcp.WithString("interval", mcp.Required(), mcp.Description("Candle interval (see get_intervals)")),
		mcp.WithString("start_date", mcp.Required(), mcp.Description("Start date, YYYY-MM-DD")),
		mcp.WithString("end_date", mcp.Required(), mcp.Description("End date, YYYY-MM-DD")),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "fetching history"
		args, err := requireStrings(req, "symbol", "exchange", "interval", "start_date", "end_date")
		if err != nil {
			return failure(verb, err)
		}
		return s.call(ctx, openalgo.OpHistory, verb, ports.Params{
			"symbol":     upper(args[0]),
			"exchange":   upper(args[1]),
			"interval":   args[2],
			"start_date": args[3],
			"end_date":   args[4],
		})
	})

	s.addQuery("get_intervals", "Get the intervals available for historical data.", openalgo.OpIntervals, "getting intervals")

	s.add(mcp.NewTool("get_all_tickers",
		mcp.WithDescription("Get all available tickers, optionally for one exchange."),
		mcp.WithString("exchange", exchangeArg),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		params := ports.Params{}
		if exchange := req.GetString("exchange", ""); exchange != "" {
			params["exchange"] = upper(exchange)
		}
		return s.call(ctx, openalgo.OpTicker, "fetching tickers", params)
	})
}

func (s *Server) registerSymbolTools() {
	s.add(mcp.NewTool("format_equity_symbol",
		mcp.WithDescription("Format an equity trading symbol."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Base symbol")),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		base, err := req.RequireString("symbol")
		if err != nil {
			return failure("formatting symbol", err)
		}
		return domain.Success(symbol.Equity(base))
	})

	s.add(mcp.NewTool("format_future_symbol",
		mcp.WithDescription("Format a futures symbol, e.g. BANKNIFTY24APR24FUT."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Base symbol (e.g., BANKNIFTY)")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Expiry year (24 or 2024)")),
		mcp.WithString("month", mcp.Required(), mcp.Description("Expiry month (1-12 or name)")),
		mcp.WithString("day", mcp.Description("Expiry day, empty for monthly contracts")),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "formatting future symbol"
		args, err := requireStrings(req, "symbol", "month")
		if err != nil {
			return failure(verb, err)
		}
		year, err := req.RequireInt("year")
		if err != nil {
			return failure(verb, err)
		}
		sym, err := symbol.Future(args[0], year, args[1], req.GetString("day", ""))
		if err != nil {
			return failure(verb, err)
		}
		return domain.Success(sym)
	})

	s.add(mcp.NewTool("format_option_symbol",
		mcp.WithDescription("Format an options symbol, e.g. NIFTY28MAR2420800CE."),
		mcp.WithString("symbol", mcp.Required(), mcp.Description("Base symbol (e.g., NIFTY)")),
		mcp.WithString("day", mcp.Required(), mcp.Description("Expiry day")),
		mcp.WithString("month", mcp.Required(), mcp.Description("Expiry month (1-12 or name)")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Expiry year (24 or 2024)")),
		mcp.WithNumber("strike", mcp.Required(), mcp.Description("Strike price")),
		mcp.WithString("option_type", mcp.Required(), mcp.Description("CE/CALL or PE/PUT")),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		const verb = "formatting option symbol"
		args, err := requireStrings(req, "symbol", "day", "month", "option_type")
		if err != nil {
			return failure(verb, err)
		}
		year, err := req.RequireInt("year")
		if err != nil {
			return failure(verb, err)
		}
		strike, err := req.RequireFloat("strike")
		if err != nil {
			return failure(verb, err)
		}
		sym, err := symbol.Option(args[0], args[1], args[2], year, strike, args[3])
		if err != nil {
			return failure(verb, err)
		}
		return domain.Success(sym)
	})

	s.add(mcp.NewTool("get_common_indices",
		mcp.WithDescription("List commonly traded index symbols."),
		mcp.WithString("exchange", mcp.Description("NSE_INDEX or BSE_INDEX"), mcp.DefaultString("NSE_INDEX")),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		exchange := upper(req.GetString("exchange", "NSE_INDEX"))
		indices := symbol.CommonIndices(exchange)
		if indices == nil {
			return domain.Failure(fmt.Sprintf("Error listing indices: unsupported exchange %q", exchange))
		}
		return domain.Success(strings.Join(indices, ", "))
	})
}

// addQuery registers a tool without arguments that maps onto one broker op.
func (s *Server) addQuery(name, description, op, verb string) {
	s.add(mcp.NewTool(name, mcp.WithDescription(description)),
		func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
			return s.call(ctx, op, verb, ports.Params{})
		})
}

// addSymbolQuery registers a tool taking symbol and exchange.
func (s *Server) addSymbolQuery(name, description, op, verb string) {
	s.add(mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("symbol", mcp.Required(), symbolArg),
		mcp.WithString("exchange", exchangeArg, mcp.DefaultString("NSE")),
	), func(ctx context.Context, req mcp.CallToolRequest) domain.ToolResult {
		sym, err := req.RequireString("symbol")
		if err != nil {
			return failure(verb, err)
		}
		return s.call(ctx, op, verb, ports.Params{
			"symbol":   upper(sym),
			"exchange": upper(req.GetString("exchange", "NSE")),
		})
	})
}

func requireStrings(req mcp.CallToolRequest, keys ...string) ([]string, error) {
	out := make([]string, len(keys))
	for i, k := range keys {
		v, err := req.RequireString(k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// basketOrders normalizes the orders argument. It accepts a list of objects
// or a JSON-encoded string of one, since models send either.
func basketOrders(raw any) ([]map[string]any, error) {
	if text, ok := raw.(string); ok {
		var decoded []any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return nil, fmt.Errorf("orders must be a list of objects: %w", err)
		}
		raw = decoded
	}
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("orders must be a non-empty list of objects")
	}
	orders := make([]map[string]any, 0, len(items))
	for i, item := range items {
		order, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("order %d is not an object", i)
		}
		normalized := make(map[string]any, len(order))
		for k, v := range order {
			normalized[k] = v
		}
		for _, k := range []string{"symbol", "exchange", "action", "pricetype", "product"} {
			if v, ok := normalized[k].(string); ok {
				normalized[k] = upper(v)
			}
		}
		if _, ok := normalized["pricetype"]; !ok {
			normalized["pricetype"] = "MARKET"
		}
		if _, ok := normalized["product"]; !ok {
			normalized["product"] = "MIS"
		}
		orders = append(orders, normalized)
	}
	return orders, nil
}
