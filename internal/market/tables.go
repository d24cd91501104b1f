package market

// genericBasePrice prices crops missing from every table, in the
// quoting region's currency without conversion.
const genericBasePrice = 50

// cropCodes maps crops to commodities-feed symbols. Teff has no symbol
// of its own and trades as a wheat proxy.
var cropCodes = map[string]string{
	"maize":   "CORN",
	"corn":    "CORN",
	"wheat":   "WHEAT",
	"coffee":  "COFFEE",
	"teff":    "WHEAT",
	"rice":    "RICE",
	"soybean": "SOYBEAN",
	"sugar":   "SUGAR",
}

type regionAdjustment struct {
	currency   string
	multiplier float64 // local units per USD
}

var regionAdjustments = map[string]regionAdjustment{
	"Kenya":       {currency: "KES", multiplier: 150},
	"Ethiopia":    {currency: "ETB", multiplier: 56},
	"Tanzania":    {currency: "TZS", multiplier: 2500},
	"Uganda":      {currency: "UGX", multiplier: 3700},
	DefaultRegion: {currency: "USD", multiplier: 1},
}

// localPrices are per-kg prices in the region's currency.
var localPrices = map[string]map[string]float64{
	"Kenya": {
		"maize":  45,
		"wheat":  55,
		"coffee": 350,
		"teff":   120,
	},
	"Ethiopia": {
		"maize":  25,
		"wheat":  35,
		"coffee": 200,
		"teff":   80,
	},
	DefaultRegion: {
		"maize":  0.35,
		"wheat":  0.40,
		"coffee": 2.50,
		"teff":   1.20,
	},
}

type regionBox struct {
	region         string
	minLat, maxLat float64
	minLon, maxLon float64
}

// regionBoxes are checked in this order.
var regionBoxes = []regionBox{
	{region: "Kenya", minLat: -5, maxLat: 5, minLon: 34, maxLon: 42},
	{region: "Ethiopia", minLat: 3, maxLat: 15, minLon: 33, maxLon: 48},
	{region: "Tanzania", minLat: -12, maxLat: 0, minLon: 29, maxLon: 41},
	{region: "Uganda", minLat: -2, maxLat: 5, minLon: 29, maxLon: 35},
}
