package schema

// Built-in entity identifiers.
const (
	EntityInventory = "inventory"
	EntityEmployees = "employees"
	EntityAssets    = "assets"
)

// Builtin returns a fresh registry with the inventory, employee and fixed
// asset schemas. Each call builds new values so callers may extend the
// result without affecting each other.
func Builtin() *Registry {
	r, err := NewRegistry(Inventory(), Employees(), Assets())
	if err != nil {
		panic(err)
	}
	return r
}

// Inventory is the stock item schema, keyed by SKU.
func Inventory() *Schema {
	return MustNew(Definition{
		Entity:     EntityInventory,
		Label:      "Inventory Items",
		NaturalKey: "sku",
		Fields: []Field{
			{Key: "sku", Label: "SKU", Required: true, Type: TypeString, Example: "WID-001",
				Aliases: []string{"item_code", "product_code", "stock_code", "part_number", "item_number", "sku_code", "code"}},
			{Key: "name", Label: "Name", Required: true, Type: TypeString, Example: "Widget",
				Aliases: []string{"item_name", "product_name", "product", "item", "title"}},
			{Key: "description", Label: "Description", Type: TypeString, Example: "Blue steel widget",
				Aliases: []string{"desc", "details", "item_description", "product_description"}},
			{Key: "category", Label: "Category", Type: TypeString, Example: "Hardware",
				Aliases: []string{"product_category", "item_category", "group", "department"}},
			{Key: "unit_price", Label: "Unit Price", Type: TypeNumber, Example: "12.50",
				Aliases: []string{"price", "selling_price", "sale_price", "retail_price", "rate"}},
			{Key: "cost_price", Label: "Cost Price", Type: TypeNumber, Example: "8.00",
				Aliases: []string{"cost", "unit_cost", "purchase_price", "buying_price"}},
			{Key: "quantity", Label: "Quantity", Type: TypeNumber, Example: "100",
				Aliases: []string{"qty", "stock", "on_hand", "quantity_on_hand", "stock_level", "units"}},
			{Key: "reorder_level", Label: "Reorder Level", Type: TypeNumber, Example: "10",
				Aliases: []string{"reorder_point", "min_stock", "minimum_stock"}},
			{Key: "unit", Label: "Unit of Measure", Type: TypeString, Example: "each",
				Aliases: []string{"uom", "unit_of_measure", "measure"}},
			{Key: "active", Label: "Active", Type: TypeBoolean, Example: "yes",
				Aliases: []string{"is_active", "enabled", "available"}},
		},
		Rules: []Rule{
			{Kind: RuleMin, Field: "unit_price", Value: 0},
			{Kind: RuleMin, Field: "cost_price", Value: 0},
			{Kind: RuleMin, Field: "quantity", Value: 0},
			{Kind: RuleMin, Field: "reorder_level", Value: 0},
		},
	})
}

// Employees is the personnel schema, keyed by employee number.
func Employees() *Schema {
	return MustNew(Definition{
		Entity:     EntityEmployees,
		Label:      "Employees",
		NaturalKey: "employee_number",
		Fields: []Field{
			{Key: "employee_number", Label: "Employee Number", Required: true, Type: TypeString, Example: "E-1001",
				Aliases: []string{"employee_id", "emp_id", "emp_no", "employee_no", "staff_id", "staff_number", "payroll_number"}},
			{Key: "first_name", Label: "First Name", Required: true, Type: TypeString, Example: "Chipo",
				Aliases: []string{"firstname", "given_name", "forename", "fname"}},
			{Key: "last_name", Label: "Last Name", Required: true, Type: TypeString, Example: "Banda",
				Aliases: []string{"lastname", "surname", "family_name", "lname"}},
			{Key: "email", Label: "Email", Type: TypeString, Example: "chipo.banda@example.com",
				Aliases: []string{"email_address", "e_mail", "work_email", "mail"}},
			{Key: "phone", Label: "Phone", Type: TypeString, Example: "+260 97 000 0000",
				Aliases: []string{"phone_number", "mobile", "cell", "telephone", "contact_number"}},
			{Key: "department", Label: "Department", Type: TypeString, Example: "Finance",
				Aliases: []string{"dept", "division", "team"}},
			{Key: "job_title", Label: "Job Title", Type: TypeString, Example: "Accountant",
				Aliases: []string{"title", "position", "role", "designation"}},
			{Key: "hire_date", Label: "Hire Date", Type: TypeDate, Example: "2023-03-01",
				Aliases: []string{"start_date", "date_hired", "joining_date", "date_joined", "employment_date"}},
			{Key: "salary", Label: "Salary", Type: TypeNumber, Example: "15000",
				Aliases: []string{"basic_salary", "gross_salary", "monthly_salary", "pay", "wage"}},
			{Key: "active", Label: "Active", Type: TypeBoolean, Example: "true",
				Aliases: []string{"is_active", "employed", "current"}},
		},
		Rules: []Rule{
			{Kind: RuleEmail, Field: "email"},
			{Kind: RuleMin, Field: "salary", Value: 0},
			{Kind: RuleNotFuture, Field: "hire_date"},
		},
	})
}

// Assets is the fixed asset schema, keyed by asset tag.
func Assets() *Schema {
	return MustNew(Definition{
		Entity:     EntityAssets,
		Label:      "Fixed Assets",
		NaturalKey: "asset_tag",
		Fields: []Field{
			{Key: "asset_tag", Label: "Asset Tag", Required: true, Type: TypeString, Example: "FA-0001",
				Aliases: []string{"asset_id", "asset_number", "asset_code", "tag", "tag_number"}},
			{Key: "name", Label: "Name", Required: true, Type: TypeString, Example: "Delivery Van",
				Aliases: []string{"asset_name", "item", "title"}},
			{Key: "category", Label: "Category", Type: TypeString, Example: "Vehicles",
				Aliases: []string{"asset_class", "asset_type", "class", "type"}},
			{Key: "serial_number", Label: "Serial Number", Type: TypeString, Example: "SN-88213",
				Aliases: []string{"serial", "serial_no", "sn"}},
			{Key: "location", Label: "Location", Type: TypeString, Example: "Lusaka HQ",
				Aliases: []string{"site", "branch", "office"}},
			{Key: "purchase_date", Label: "Purchase Date", Type: TypeDate, Example: "2022-07-15",
				Aliases: []string{"acquisition_date", "date_acquired", "date_purchased", "bought_on"}},
			{Key: "purchase_cost", Label: "Purchase Cost", Type: TypeNumber, Example: "250000",
				Aliases: []string{"cost", "purchase_price", "acquisition_cost", "original_cost", "price"}},
			{Key: "salvage_value", Label: "Salvage Value", Type: TypeNumber, Example: "25000",
				Aliases: []string{"residual_value", "scrap_value", "salvage"}},
			{Key: "useful_life_years", Label: "Useful Life (Years)", Type: TypeNumber, Example: "5",
				Aliases: []string{"useful_life", "life_years", "lifespan"}},
			{Key: "depreciation_method", Label: "Depreciation Method", Type: TypeString, Example: "straight_line",
				Aliases: []string{"method", "depreciation"}},
		},
		Rules: []Rule{
			{Kind: RuleMin, Field: "purchase_cost", Value: 0},
			{Kind: RuleMin, Field: "salvage_value", Value: 0},
			{Kind: RuleLessThan, Field: "salvage_value", Other: "purchase_cost",
				Message: "Salvage value must be less than purchase cost"},
			{Kind: RuleMin, Field: "useful_life_years", Value: 0},
			{Kind: RuleNotFuture, Field: "purchase_date"},
			{Kind: RuleOneOf, Field: "depreciation_method",
				Values: []string{"straight_line", "declining_balance", "sum_of_years"}},
		},
	})
}
