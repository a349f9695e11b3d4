package entities

// CustomCategoryTag switches a session to free-text entry instead of searching.
const CustomCategoryTag = "custom"

// Category is one selectable place category.
type Category struct {
	Tag       string `json:"tag"`
	PlaceType string `json:"place_type"`
	Label     string `json:"label"`
}

// categories is ordered as presented to users.
var categories = []Category{
	{Tag: "restaurant", PlaceType: "restaurant", Label: "Restaurants"},
	{Tag: "cafe", PlaceType: "cafe", Label: "Cafes"},
	{Tag: "shop", PlaceType: "store", Label: "Shops"},
	{Tag: "convenience", PlaceType: "convenience_store", Label: "Convenience Stores"},
	{Tag: "hotel", PlaceType: "lodging", Label: "Hotels"},
	{Tag: "hospital", PlaceType: "hospital", Label: "Hospitals"},
	{Tag: "pharmacy", PlaceType: "pharmacy", Label: "Pharmacies"},
	{Tag: "gas", PlaceType: "gas_station", Label: "Gas Stations"},
	{Tag: "parking", PlaceType: "parking", Label: "Parking"},
	{Tag: "atm", PlaceType: "atm", Label: "Banks/ATMs"},
	{Tag: "metro", PlaceType: "subway_station", Label: "Metro Stations"},
	{Tag: "bus", PlaceType: "bus_station", Label: "Bus Stops"},
	{Tag: "school", PlaceType: "school", Label: "Schools"},
	{Tag: "worship", PlaceType: "place_of_worship", Label: "Worship Places"},
}

var categoriesByTag = func() map[string]Category {
	m := make(map[string]Category, len(categories))
	for _, c := range categories {
		m[c.Tag] = c
	}
	return m
}()

// Categories returns the selectable categories in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// LookupCategory resolves a category tag.
func LookupCategory(tag string) (Category, bool) {
	c, ok := categoriesByTag[tag]
	return c, ok
}
