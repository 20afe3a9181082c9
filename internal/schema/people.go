package schema

// People describes the user export: firstname,lastname,birthday,favorite_pet.
// Columns outside the schema are ignored.
var People = Must("people", false,
	FieldSpec{Name: "firstname", Type: FieldText, Required: true, Trim: true},
	FieldSpec{Name: "lastname", Type: FieldText, Required: true, Trim: true},
	FieldSpec{Name: "birthday", Type: FieldDate, Required: true},
	FieldSpec{Name: "favorite_pet", Type: FieldText, Trim: true},
)
