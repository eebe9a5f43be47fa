package etl

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// A Record is one upstream API record as decoded JSON, prior to any
// renaming or coercion.
type Record = map[string]any

// MalformedRecordError marks a record missing a required structural key.
// The batch flattener skips such records instead of aborting.
type MalformedRecordError struct {
	Domain string
	Field  string
	ID     string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s record %q: missing required field %s", e.Domain, e.ID, e.Field)
}

// FlattenFunc converts one upstream record into one flat row.
type FlattenFunc func(Record) (Row, error)

// FlattenAll applies fn to every record, building a table with the given
// column set. Malformed records are logged and dropped; any other error
// aborts the batch.
func FlattenAll(records []Record, cols []string, fn FlattenFunc, log *slog.Logger) (*Table, error) {
	t := NewTable(cols...)
	for _, rec := range records {
		row, err := fn(rec)
		if err != nil {
			var malformed *MalformedRecordError
			if errors.As(err, &malformed) {
				log.Warn("skipping malformed record",
					"domain", malformed.Domain, "id", malformed.ID, "field", malformed.Field)
				continue
			}
			return nil, err
		}
		t.Append(row)
	}
	return t, nil
}

// nested reads record[key][sub], requiring both levels to be present.
func nested(rec Record, key, sub string) (any, bool) {
	obj, ok := rec[key].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[sub]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// customField returns the value of the first entry in the record's
// customFields array whose slug matches. Absence is not an error; the
// column's default applies.
func customField(rec Record, slug string) any {
	fields, ok := rec["customFields"].([]any)
	if !ok {
		return nil
	}
	for _, f := range fields {
		cf, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if Str(cf["slug"]) == slug {
			return cf["value"]
		}
	}
	return nil
}

// EmployeeCols is the flat employee schema served by the CSV export and
// consumed by the employee and imputation jobs.
var EmployeeCols = []string{
	"id", "firstName", "lastName", "email", "work_status", "profile_image_url",
	"code", "pin", "phone", "gender", "contract_id", "date_of_birth", "nid",
	"identity_number_type", "ssn", "price_per_hour", "account_number", "status",
	"children", "disability", "address", "postal_code", "city", "province",
	"country", "job_charge_id", "job_charge_name", "nationality",
	"marital_status", "study_level", "professional_category_code",
	"professional_category_description", "bic", "salary_range",
	"company_id", "company_name",
	"cf_area", "cf_precio_hora_empresa", "cf_telefono_corto",
	"cf_fecha_de_alta", "cf_fecha_de_baja", "cf_nucleo_de_negocio", "cf_studies",
}

// FlattenEmployee extracts the flat employee row. The record identifier
// is the only required structural key.
func FlattenEmployee(rec Record) (Row, error) {
	id := Str(rec["id"])
	if id == "" {
		return nil, &MalformedRecordError{Domain: "employees", Field: "id"}
	}
	row := Row{
		"id":                                id,
		"firstName":                         Str(rec["firstName"]),
		"lastName":                          Str(rec["lastName"]),
		"email":                             Str(rec["email"]),
		"work_status":                       Str(rec["workStatus"]),
		"profile_image_url":                 Str(rec["imageProfileURL"]),
		"code":                              Count(rec["code"]),
		"pin":                               Count(rec["pin"]),
		"phone":                             Str(rec["phone"]),
		"gender":                            Str(rec["gender"]),
		"contract_id":                       Str(rec["contractId"]),
		"date_of_birth":                     Str(rec["dateOfBirth"]),
		"nid":                               Str(rec["nid"]),
		"identity_number_type":              Str(rec["identityNumberType"]),
		"ssn":                               Str(rec["ssn"]),
		"price_per_hour":                    FloatOrNil(rec["pricePerHour"]),
		"account_number":                    Str(rec["accountNumber"]),
		"status":                            Str(rec["status"]),
		"children":                          Count(rec["children"]),
		"disability":                        Percent(rec["disability"]),
		"address":                           Str(rec["address"]),
		"postal_code":                       Str(rec["postalCode"]),
		"city":                              Str(rec["city"]),
		"province":                          Str(rec["province"]),
		"country":                           Str(rec["country"]),
		"job_charge_id":                     Str(rec["jobChargeId"]),
		"job_charge_name":                   Str(rec["jobChargeName"]),
		"nationality":                       Str(rec["nationality"]),
		"marital_status":                    Str(rec["maritalStatus"]),
		"study_level":                       Str(rec["studyLevel"]),
		"professional_category_code":        Str(rec["professionalCategoryCode"]),
		"professional_category_description": Str(rec["professionalCategoryDescription"]),
		"bic":                               Str(rec["bic"]),
		"salary_range":                      Str(rec["salaryRange"]),
		"cf_area":                           customField(rec, "cf_rea"),
		"cf_precio_hora_empresa":            customField(rec, "cf_precioh_empresa"),
		"cf_telefono_corto":                 customField(rec, "cf_telefono_corto"),
		"cf_fecha_de_alta":                  customField(rec, "cf_fecha_de_alta"),
		"cf_fecha_de_baja":                  customField(rec, "cf_fecha_de_baja"),
		"cf_nucleo_de_negocio":              customField(rec, "cf_nucleo_de_negocio"),
		"cf_studies":                        customField(rec, "cf_studies"),
	}
	if v, ok := nested(rec, "company", "id"); ok {
		row["company_id"] = Str(v)
	} else {
		row["company_id"] = ""
	}
	if v, ok := nested(rec, "company", "name"); ok {
		row["company_name"] = Str(v)
	} else {
		row["company_name"] = ""
	}
	return row, nil
}

// WorkEntryCols is the flat work-entry (clock-in/out) schema.
var WorkEntryCols = []string{
	"id", "employee_id", "work_entry_type", "worked_seconds",
	"work_entry_in_datetime", "work_entry_out_datetime", "work_break_id",
}

// FlattenWorkEntry requires the nested employee id and both entry
// timestamps; a record without them cannot be joined or measured.
func FlattenWorkEntry(rec Record) (Row, error) {
	id := Str(rec["id"])
	employeeID, ok := nested(rec, "employee", "id")
	if !ok {
		return nil, &MalformedRecordError{Domain: "work-entries", Field: "employee.id", ID: id}
	}
	in, okIn := nested(rec, "workEntryIn", "date")
	out, okOut := nested(rec, "workEntryOut", "date")
	if !okIn || !okOut {
		return nil, &MalformedRecordError{Domain: "work-entries", Field: "workEntryIn/workEntryOut.date", ID: id}
	}
	return Row{
		"id":                      id,
		"employee_id":             Str(employeeID),
		"work_entry_type":         Str(rec["workEntryType"]),
		"worked_seconds":          Count(rec["workedSeconds"]),
		"work_entry_in_datetime":  Str(in),
		"work_entry_out_datetime": Str(out),
		"work_break_id":           Str(rec["workBreakId"]),
	}, nil
}

// TimeEntryCols is the flat time-entry (imputation) schema.
var TimeEntryCols = []string{
	"id", "employee_id", "project", "project_id",
	"time_entry_in_datetime", "time_entry_out_datetime", "tags", "comment",
}

// FlattenTimeEntry requires the nested employee id and both entry
// timestamps. Tags collapse to one comma-separated string.
func FlattenTimeEntry(rec Record) (Row, error) {
	id := Str(rec["id"])
	employeeID, ok := nested(rec, "employee", "id")
	if !ok {
		return nil, &MalformedRecordError{Domain: "time-entries", Field: "employee.id", ID: id}
	}
	in, okIn := nested(rec, "timeEntryIn", "date")
	out, okOut := nested(rec, "timeEntryOut", "date")
	if !okIn || !okOut {
		return nil, &MalformedRecordError{Domain: "time-entries", Field: "timeEntryIn/timeEntryOut.date", ID: id}
	}
	var tags []string
	if data, ok := nested(rec, "tags", "data"); ok {
		if arr, ok := data.([]any); ok {
			for _, t := range arr {
				if tag, ok := t.(map[string]any); ok {
					tags = append(tags, Str(tag["name"]))
				}
			}
		}
	}
	row := Row{
		"id":                      id,
		"employee_id":             Str(employeeID),
		"project":                 "",
		"project_id":              "",
		"time_entry_in_datetime":  Str(in),
		"time_entry_out_datetime": Str(out),
		"tags":                    strings.Join(tags, ","),
		"comment":                 Str(rec["comment"]),
	}
	if v, ok := nested(rec, "project", "name"); ok {
		row["project"] = Str(v)
	}
	if v, ok := nested(rec, "project", "id"); ok {
		row["project_id"] = Str(v)
	}
	return row, nil
}

// WorkedHoursCols is the flat worked-hours report schema. The report has
// no record identifier of its own; the employee id plus the report date
// added by the caller identify a row.
var WorkedHoursCols = []string{
	"employeeId", "secondsWorked", "secondsToWork", "secondsBalance",
}

// FlattenWorkedHours extracts the per-employee daily totals.
func FlattenWorkedHours(rec Record) (Row, error) {
	employeeID := Str(rec["employeeId"])
	if employeeID == "" {
		return nil, &MalformedRecordError{Domain: "worked-hours", Field: "employeeId"}
	}
	return Row{
		"employeeId":     employeeID,
		"secondsWorked":  Count(rec["secondsWorked"]),
		"secondsToWork":  Count(rec["secondsToWork"]),
		"secondsBalance": Count(rec["secondsBalance"]),
	}, nil
}

// DepartmentAssignmentCols is the flat department-assignment schema.
var DepartmentAssignmentCols = []string{
	"id", "employee_id", "department_id", "department_name", "created_at", "updated_at",
}

// FlattenDepartmentAssignment extracts one assignment-history entry.
func FlattenDepartmentAssignment(rec Record) (Row, error) {
	id := Str(rec["id"])
	if id == "" {
		return nil, &MalformedRecordError{Domain: "department-assignments", Field: "id"}
	}
	employeeID, ok := nested(rec, "employee", "id")
	if !ok {
		// some API versions inline the id instead of nesting it
		if v := Str(rec["employeeId"]); v != "" {
			employeeID = v
		} else {
			return nil, &MalformedRecordError{Domain: "department-assignments", Field: "employee.id", ID: id}
		}
	}
	row := Row{
		"id":              id,
		"employee_id":     Str(employeeID),
		"department_id":   "",
		"department_name": "",
		"created_at":      Str(rec["createdAt"]),
		"updated_at":      Str(rec["updatedAt"]),
	}
	if v, ok := nested(rec, "department", "id"); ok {
		row["department_id"] = Str(v)
	} else {
		row["department_id"] = Str(rec["departmentId"])
	}
	if v, ok := nested(rec, "department", "name"); ok {
		row["department_name"] = Str(v)
	}
	return row, nil
}

// ProjectCols is the flat project schema.
var ProjectCols = []string{
	"id", "name", "customer_id", "customer_name", "project_status",
}

// FlattenProject extracts one project record.
func FlattenProject(rec Record) (Row, error) {
	id := Str(rec["id"])
	if id == "" {
		return nil, &MalformedRecordError{Domain: "projects", Field: "id"}
	}
	row := Row{
		"id":             id,
		"name":           Str(rec["name"]),
		"customer_id":    "",
		"customer_name":  "",
		"project_status": Str(rec["projectStatus"]),
	}
	if v, ok := nested(rec, "customer", "id"); ok {
		row["customer_id"] = Str(v)
	} else {
		row["customer_id"] = Str(rec["customerId"])
	}
	if v, ok := nested(rec, "customer", "name"); ok {
		row["customer_name"] = Str(v)
	} else {
		row["customer_name"] = Str(rec["customerName"])
	}
	return row, nil
}
