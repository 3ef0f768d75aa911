package gemini

import (
	"strings"

	"google.golang.org/genai"
)

func nullableString(description string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeString,
		Description: description,
		Nullable:    genai.Ptr(true),
	}
}

func stringList(description string) *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: description,
		Items:       &genai.Schema{Type: genai.TypeString},
	}
}

// responseSchema mirrors crawler.ClinicRecord so the model answers in the decoded shape.
func responseSchema() *genai.Schema {
	days := []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
	dayProps := make(map[string]*genai.Schema, len(days))
	for _, day := range days {
		dayProps[day] = nullableString("Opening hours, or Closed")
	}

	services := stringList("Offered services. Use the standard service name when one matches, otherwise the site's own wording")
	services.Items.Description = "Prefer a standard name when it matches (" + strings.Join(StandardServices, "; ") + "); otherwise the site's wording"

	order := []string{
		"name", "phone", "address", "city", "state", "postal_code", "website", "email",
		"hours", "business_hours", "is_24_7", "holiday_closures", "professionals",
		"manager", "operations_lead", "services", "services_not_offered", "specialties",
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":        nullableString("Business name"),
			"phone":       nullableString("Main phone number or numbers"),
			"address":     nullableString("Street address"),
			"city":        nullableString("City"),
			"state":       nullableString("State or region"),
			"postal_code": nullableString("Postal or ZIP code"),
			"website":     nullableString("Canonical website URL"),
			"email":       nullableString("Contact email"),
			"hours":       nullableString("One-line opening hours summary"),
			"business_hours": {
				Type:             genai.TypeObject,
				Nullable:         genai.Ptr(true),
				Properties:       dayProps,
				PropertyOrdering: days,
			},
			"is_24_7": {
				Type:     genai.TypeBoolean,
				Nullable: genai.Ptr(true),
			},
			"holiday_closures": nullableString("Holiday schedule notes"),
			"professionals": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":         {Type: genai.TypeString},
						"role":         {Type: genai.TypeString},
						"is_available": {Type: genai.TypeBoolean},
					},
					Required:         []string{"name", "role"},
					PropertyOrdering: []string{"name", "role", "is_available"},
				},
			},
			"manager":              nullableString("Practice manager name"),
			"operations_lead":      nullableString("Operations lead name"),
			"services":             services,
			"services_not_offered": nullableString("Services the site says it does not provide"),
			"specialties":          stringList("Focus areas highlighted by the site"),
		},
		Required:         []string{"name", "phone", "address", "email", "hours", "services"},
		PropertyOrdering: order,
	}
}
