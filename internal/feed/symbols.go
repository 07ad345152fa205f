package feed

// SymbolChannelPrefix namespaces per-symbol quote channels on the gateway.
const SymbolChannelPrefix = "quotes."

// ChannelForSymbol maps a ticker symbol to its gateway channel name.
// The mapping is fixed so that subscribe and unsubscribe always agree.
func ChannelForSymbol(symbol string) string {
	return SymbolChannelPrefix + symbol
}
