package testutil

// CategoryName is a category seeded by the test database helpers.
type CategoryName string

// Category names used across tests.
const (
	CategoryGroceries      CategoryName = "Groceries"
	CategoryFoodDining     CategoryName = "Food & Dining"
	CategoryCoffeeDining   CategoryName = "Coffee & Dining"
	CategoryShopping       CategoryName = "Shopping"
	CategoryOnlineShopping CategoryName = "Online Shopping"
	CategoryTransportation CategoryName = "Transportation"
	CategorySubscriptions  CategoryName = "Subscription Services"
	CategoryUtilities      CategoryName = "Utilities"
	CategoryEntertainment  CategoryName = "Entertainment"
	CategoryTravel         CategoryName = "Travel"
)

// Fixture is a named set of categories.
type Fixture struct {
	Name       string
	Categories []CategoryName
}

// Predefined fixtures.
var (
	FixtureMinimal = Fixture{
		Name: "Minimal",
		Categories: []CategoryName{
			CategoryFoodDining,
			CategoryShopping,
			CategoryTransportation,
		},
	}

	FixtureStandard = Fixture{
		Name: "Standard",
		Categories: []CategoryName{
			CategoryGroceries,
			CategoryFoodDining,
			CategoryCoffeeDining,
			CategoryShopping,
			CategoryOnlineShopping,
			CategoryTransportation,
			CategorySubscriptions,
			CategoryUtilities,
			CategoryEntertainment,
			CategoryTravel,
		},
	}
)
