package jobs

import (
	"context"
	"fmt"

	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

// dimEmpleadoCols is the Dim_Empleado column order.
var dimEmpleadoCols = []string{
	"empleado_sesame_id", "nombre", "apellidos", "email", "telefono",
	"telefono_corto", "empresa_sesame_id", "sexo", "contrato_sesame_id",
	"nid", "ssn", "costo_hora", "fecha_nacimiento", "area",
	"costo_hora_empresa", "fecha_alta", "nucleo_negocio", "estudios",
	"estado", "num_hijos", "porcentaje_discapacidad", "direccion",
	"codigo_postal", "ciudad", "provincia", "pais", "nacionalidad",
	"estatus_marital", "nivel_estudio", "codigo_categoria_profesional",
	"categoria_profesional", "bic", "cargo_trabajo_sesame_id",
	"cargo_trabajo", "empresa_id", "tipo_nid", "numero_cuenta",
	"rango_salarial", "fecha_baja",
}

// EmployeesJob syncs the employee dimension.
func (e *Env) EmployeesJob() orchestration.JobFunc {
	return instrument("employees", e.runEmployees)
}

func (e *Env) runEmployees(ctx context.Context, progress func(string)) error {
	progress("fetching employees")
	records, err := e.Sesame.Employees(ctx, 0)
	flat, err := e.fetchFlat(ctx, "employees", records, err, etl.EmployeeCols, etl.FlattenEmployee)
	if err != nil {
		return fmt.Errorf("fetch employees: %w", err)
	}

	companies, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Empresa")
	if err != nil {
		return fmt.Errorf("read Dim_Empresa: %w", err)
	}

	progress("transforming employees")
	out := etl.NewTable(dimEmpleadoCols...)
	for _, r := range flat.Rows {
		companyID := etl.Str(r["company_id"])
		out.Append(etl.Row{
			"empleado_sesame_id":           r["id"],
			"nombre":                       r["firstName"],
			"apellidos":                    r["lastName"],
			"email":                        r["email"],
			"telefono":                     r["phone"],
			"telefono_corto":               etl.Str(r["cf_telefono_corto"]),
			"empresa_sesame_id":            companyID,
			"empresa_id":                   etl.FuzzyLookup(companyID, companies, "empresa_sesame_id", "empresa_id", nil),
			"sexo":                         r["gender"],
			"contrato_sesame_id":           r["contract_id"],
			"nid":                          r["nid"],
			"ssn":                          r["ssn"],
			"costo_hora":                   etl.Percent(r["price_per_hour"]),
			"fecha_nacimiento":             etl.Date(r["date_of_birth"], false),
			"area":                         etl.Str(r["cf_area"]),
			"costo_hora_empresa":           etl.FloatOrNil(r["cf_precio_hora_empresa"]),
			"fecha_alta":                   etl.Date(r["cf_fecha_de_alta"], true),
			"nucleo_negocio":               etl.Str(r["cf_nucleo_de_negocio"]),
			"estudios":                     etl.Str(r["cf_studies"]),
			"estado":                       r["status"],
			"num_hijos":                    r["children"],
			"porcentaje_discapacidad":      etl.Percent(r["disability"]),
			"direccion":                    r["address"],
			"codigo_postal":                r["postal_code"],
			"ciudad":                       r["city"],
			"provincia":                    r["province"],
			"pais":                         r["country"],
			"nacionalidad":                 r["nationality"],
			"estatus_marital":              r["marital_status"],
			"nivel_estudio":                r["study_level"],
			"codigo_categoria_profesional": r["professional_category_code"],
			"categoria_profesional":        r["professional_category_description"],
			"bic":                          r["bic"],
			"cargo_trabajo_sesame_id":      r["job_charge_id"],
			"cargo_trabajo":                r["job_charge_name"],
			"tipo_nid":                     r["identity_number_type"],
			"numero_cuenta":                r["account_number"],
			"rango_salarial":               r["salary_range"],
			"fecha_baja":                   etl.Date(r["cf_fecha_de_baja"], true),
		})
	}

	// Employees whose company cannot be resolved have no dimension
	// bucket to land in.
	out = out.DropNil("empresa_id")

	progress("loading Dim_Empleado")
	_, err = e.load(ctx, etl.TableSpec{
		Schema: e.Schema,
		Name:   "Dim_Empleado",
		Keys:   []string{"empleado_sesame_id"},
	}, out)
	return err
}
