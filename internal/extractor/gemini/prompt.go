package gemini

import (
	"strings"
)

// StandardServices is the canonical vocabulary the model maps offered services onto.
var StandardServices = []string{
	"Wellness & Preventive Exams",
	"Puppy & Kitten Care Programs",
	"Vaccinations & Titers",
	"Flea, Tick & Heartworm Prevention",
	"Microchipping",
	"Senior Pet Wellness",
	"Nutrition & Diet Counseling",
	"Sick Pet Examinations",
	"Pain Management",
	"Internal Medicine Consults",
	"Anal Gland Expression",
	"In-House Laboratory",
	"Radiology (X-rays)",
	"Ultrasound",
	"Allergy Testing",
	"Cytology (Ear, Skin)",
	"Urinalysis/Fecal Exam",
	"Cardiac & Respiratory Diagnostics",
	"Spay/Neuter Surgery",
	"Soft Tissue Surgery",
	"Orthopedic Surgery",
	"Dental Cleaning & Extractions",
	"Dermatology",
	"Ophthalmology",
	"Oncology",
	"Behavioral Counseling",
	"Urgent Care Appointments",
	"Emergency Stabilization",
	"IV Fluid Therapy",
	"Post-Surgical Recovery Monitoring",
	"Isolation & Infectious Disease Care",
	"Quality of Life/Euthanasia Consult",
	"Hospice & Palliative Care",
	"Humane Euthanasia Services",
	"Laser Therapy",
	"Acupuncture",
	"Physical Therapy / Rehabilitation",
	"Homeopathy",
	"Medication Refill Pick-up",
	"Prescription Diet Pick-up",
}

const instructionHeader = `You extract structured facts about a single clinic or local business from the text of its website.
The text contains one or more pages, each introduced by a line of the form "--- PAGE: <url> ---".

Rules:
- Use only facts stated in the text. Never guess or invent values.
- Return null for any scalar field that is not stated, and an empty list for list fields with no values.
- name: the business name as the site presents it.
- phone: the main phone number. If several are listed, join them with ", ".
- address: the street address. city, state and postal_code go in their own fields.
- website: the canonical site URL if the text states one.
- email: the main contact address.
- hours: a one-line human readable summary of the opening hours.
- business_hours: opening hours for each weekday, e.g. "8:00 AM - 6:00 PM" or "Closed". Use null for days not covered.
- is_24_7: true only when the site says it is open around the clock.
- holiday_closures: holiday schedule notes, verbatim where possible.
- professionals: every named doctor or staff member with their role. is_available defaults to true unless the text says otherwise.
- manager and operations_lead: names only, when the site identifies them.
- services: every service the clinic offers. Use the matching entry of the standard service list below, worded exactly as listed. When no entry matches, use the name found on the website.
- services_not_offered: anything the site explicitly says it does not provide.
- specialties: notable focus areas or species the clinic highlights, in the site's own words.

Standard service list:
`

// Instructions returns the system instruction sent with every extraction call.
func Instructions() string {
	var b strings.Builder
	b.WriteString(instructionHeader)
	for _, svc := range StandardServices {
		b.WriteString("- ")
		b.WriteString(svc)
		b.WriteByte('\n')
	}
	return b.String()
}
