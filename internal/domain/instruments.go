package domain

// DefaultUniverse is the fixed instrument universe created at boot.
// Profiles are calibrated so that the cost model produces spreads in the
// single-digit bps range for liquid names and tens of bps for thin ones.
func DefaultUniverse() []Instrument {
	return []Instrument{
		{Symbol: "AAPL", Name: "Apple Inc.", Class: AssetEquity, Decimals: 2, BaseSpreadBps: 2, ImpactCoeff: 9, ADV: 11_000_000_000, CommissionBps: 1.0, CommissionMin: 1.0, BorrowAPR: 0.003, StartPrice: 187.40, VolTarget: 0.0009},
		{Symbol: "MSFT", Name: "Microsoft Corp.", Class: AssetEquity, Decimals: 2, BaseSpreadBps: 2, ImpactCoeff: 9, ADV: 9_500_000_000, CommissionBps: 1.0, CommissionMin: 1.0, BorrowAPR: 0.003, StartPrice: 415.20, VolTarget: 0.0008},
		{Symbol: "NVDA", Name: "NVIDIA Corp.", Class: AssetEquity, Decimals: 2, BaseSpreadBps: 3, ImpactCoeff: 11, ADV: 28_000_000_000, CommissionBps: 1.0, CommissionMin: 1.0, BorrowAPR: 0.004, StartPrice: 878.10, VolTarget: 0.0016},
		{Symbol: "TSLA", Name: "Tesla Inc.", Class: AssetEquity, Decimals: 2, BaseSpreadBps: 3, ImpactCoeff: 12, ADV: 18_000_000_000, CommissionBps: 1.0, CommissionMin: 1.0, BorrowAPR: 0.012, StartPrice: 244.60, VolTarget: 0.0019},
		{Symbol: "AMZN", Name: "Amazon.com Inc.", Class: AssetEquity, Decimals: 2, BaseSpreadBps: 2, ImpactCoeff: 10, ADV: 8_200_000_000, CommissionBps: 1.0, CommissionMin: 1.0, BorrowAPR: 0.004, StartPrice: 178.90, VolTarget: 0.0011},
		{Symbol: "JPM", Name: "JPMorgan Chase & Co.", Class: AssetEquity, Decimals: 2, BaseSpreadBps: 2, ImpactCoeff: 8, ADV: 2_300_000_000, CommissionBps: 1.0, CommissionMin: 1.0, BorrowAPR: 0.003, StartPrice: 198.30, VolTarget: 0.0008},
		{Symbol: "XOM", Name: "Exxon Mobil Corp.", Class: AssetEquity, Decimals: 2, BaseSpreadBps: 2, ImpactCoeff: 8, ADV: 1_900_000_000, CommissionBps: 1.0, CommissionMin: 1.0, BorrowAPR: 0.004, StartPrice: 113.80, VolTarget: 0.0009},
		{Symbol: "SPY", Name: "SPDR S&P 500 ETF", Class: AssetETF, Decimals: 2, BaseSpreadBps: 1, ImpactCoeff: 5, ADV: 32_000_000_000, CommissionBps: 0.5, CommissionMin: 0.5, BorrowAPR: 0.002, StartPrice: 522.50, VolTarget: 0.0006},
		{Symbol: "TLT", Name: "iShares 20+ Year Treasury ETF", Class: AssetBond, Decimals: 2, BaseSpreadBps: 1, ImpactCoeff: 5, ADV: 3_600_000_000, CommissionBps: 0.5, CommissionMin: 0.5, BorrowAPR: 0.002, StartPrice: 92.70, VolTarget: 0.0005, SafeHaven: true},
		{Symbol: "GLD", Name: "SPDR Gold Shares", Class: AssetETF, Decimals: 2, BaseSpreadBps: 1, ImpactCoeff: 6, ADV: 1_700_000_000, CommissionBps: 0.5, CommissionMin: 0.5, BorrowAPR: 0.002, StartPrice: 214.90, VolTarget: 0.0006, SafeHaven: true},
		{Symbol: "BTC-USD", Name: "Bitcoin", Class: AssetCrypto, Decimals: 2, BaseSpreadBps: 5, ImpactCoeff: 16, ADV: 25_000_000_000, CommissionBps: 8.0, CommissionMin: 0.1, BorrowAPR: 0.02, StartPrice: 67_250.00, VolTarget: 0.0028},
		{Symbol: "ETH-USD", Name: "Ether", Class: AssetCrypto, Decimals: 2, BaseSpreadBps: 6, ImpactCoeff: 17, ADV: 12_000_000_000, CommissionBps: 8.0, CommissionMin: 0.1, BorrowAPR: 0.02, StartPrice: 3_490.00, VolTarget: 0.0032},
	}
}
