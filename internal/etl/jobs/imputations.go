package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

var factImputacionesCols = []string{
	"fecha", "tarea", "cliente", "proyecto", "etiqueta", "precio_hora",
	"horas_imputadas", "empresa_id", "departamento_id", "empleado_id",
}

var factFichajesCols = []string{
	"fecha", "tiempo_teorico", "tiempo_trabajado", "empresa_id",
	"departamento_id", "empleado_id",
}

// departamentoSinAsignar is the catch-all department bucket.
const departamentoSinAsignar = int64(35)

// ImputationsJob builds the imputation and clock-in facts for the
// window, enriching API data with the warehouse dimensions.
func (e *Env) ImputationsJob(w sesame.Window) orchestration.JobFunc {
	return instrument("imputations", func(ctx context.Context, progress func(string)) error {
		return e.runImputations(ctx, w, progress)
	})
}

func (e *Env) runImputations(ctx context.Context, w sesame.Window, progress func(string)) error {
	progress("fetching employees")
	empRecords, err := e.Sesame.Employees(ctx, 0)
	employees, err := e.fetchFlat(ctx, "employees", empRecords, err, etl.EmployeeCols, etl.FlattenEmployee)
	if err != nil {
		return fmt.Errorf("fetch employees: %w", err)
	}

	daily, err := e.fetchWorkedHours(ctx, w, progress)
	if err != nil {
		return err
	}

	progress("fetching time entries")
	teRecords, err := e.Sesame.TimeEntries(ctx, w)
	timeEntries, err := e.fetchFlat(ctx, "time-entries", teRecords, err, etl.TimeEntryCols, etl.FlattenTimeEntry)
	if err != nil {
		return fmt.Errorf("fetch time entries: %w", err)
	}

	progress("fetching department assignments")
	daRecords, err := e.Sesame.DepartmentAssignments(ctx, 0)
	assignments, err := e.fetchFlat(ctx, "department-assignments", daRecords, err,
		etl.DepartmentAssignmentCols, etl.FlattenDepartmentAssignment)
	if err != nil {
		return fmt.Errorf("fetch department assignments: %w", err)
	}

	dimEmpleado, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Empleado")
	if err != nil {
		return fmt.Errorf("read Dim_Empleado: %w", err)
	}
	dimEmpresa, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Empresa")
	if err != nil {
		return fmt.Errorf("read Dim_Empresa: %w", err)
	}
	dimDepartamento, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Departamento")
	if err != nil {
		return fmt.Errorf("read Dim_Departamento: %w", err)
	}

	empByID := indexBy(employees, "id")
	// Warehouse employee ids resolve through the national id; when a
	// DNI repeats the most recently loaded row wins.
	idByDNI := make(map[string]any, dimEmpleado.Len())
	for _, r := range dimEmpleado.Rows {
		if dni := etl.Str(r["nid"]); dni != "" {
			idByDNI[dni] = r["empleado_id"]
		}
	}
	deptByEmployee := indexBy(etl.LatestPerKey(assignments, "employee_id", "updated_at"), "employee_id")

	progress("building imputations")
	imputations := etl.NewTable(factImputacionesCols...)
	for _, te := range timeEntries.Rows {
		emp, ok := empByID[etl.Str(te["employee_id"])]
		if !ok {
			continue
		}
		empleadoID, ok := idByDNI[etl.Str(emp["nid"])]
		if !ok {
			continue
		}

		in := asTime(te["time_entry_in_datetime"])
		out := asTime(te["time_entry_out_datetime"])
		cliente := etl.Str(emp["company_name"])

		etiqueta := etl.Str(te["tags"])
		if etiqueta == "" {
			etiqueta = "No especificada"
		}
		departmentName := ""
		if dept, ok := deptByEmployee[etl.Str(te["employee_id"])]; ok {
			departmentName = etl.Str(dept["department_name"])
		}

		imputations.Append(etl.Row{
			"fecha":           in.UTC().Truncate(24 * time.Hour),
			"tarea":           etl.Str(te["comment"]),
			"cliente":         cliente,
			"proyecto":        te["project"],
			"etiqueta":        etiqueta,
			"precio_hora":     emp["price_per_hour"],
			"horas_imputadas": out.Sub(in).Hours(),
			"empresa_id":      etl.FuzzyLookup(cliente, dimEmpresa, "nombre", "empresa_id", nil),
			"departamento_id": etl.FuzzyLookup(departmentName, dimDepartamento, "nombre", "departamento_id", departamentoSinAsignar),
			"empleado_id":     empleadoID,
		})
	}

	summary := etl.GroupSum(imputations,
		[]string{"empleado_id", "fecha", "tarea"}, "horas_imputadas")
	summary = summary.DropNil(factImputacionesCols...)

	progress("loading Fact_Imputaciones")
	if _, err := e.load(ctx, etl.TableSpec{
		Schema:     e.Schema,
		Name:       "Fact_Imputaciones",
		Keys:       []string{"empleado_id", "fecha", "tarea"},
		InsertOnly: true,
	}, summary); err != nil {
		return err
	}

	progress("building clock-ins")
	fichajes := etl.NewTable(factFichajesCols...)
	for _, r := range daily.Rows {
		employeeID := etl.Str(r["employeeId"])
		companyName := ""
		var empleadoID any
		if emp, ok := empByID[employeeID]; ok {
			companyName = etl.Str(emp["company_name"])
			empleadoID = idByDNI[etl.Str(emp["nid"])]
		}
		departmentName := "No asignado"
		if dept, ok := deptByEmployee[employeeID]; ok {
			if name := etl.Str(dept["department_name"]); name != "" {
				departmentName = name
			}
		}
		toWork, _ := etl.Float(r["secondsToWork"])
		worked, _ := etl.Float(r["secondsWorked"])
		fichajes.Append(etl.Row{
			"fecha":            r["date"],
			"tiempo_teorico":   toWork,
			"tiempo_trabajado": worked,
			"empresa_id":       etl.FuzzyLookup(companyName, dimEmpresa, "nombre", "empresa_id", nil),
			"departamento_id":  etl.FuzzyLookup(departmentName, dimDepartamento, "nombre", "departamento_id", departamentoSinAsignar),
			"empleado_id":      empleadoID,
		})
	}
	fichajes = fichajes.DropNil(factFichajesCols...)

	progress("loading Fact_Fichajes")
	_, err = e.load(ctx, etl.TableSpec{
		Schema:     e.Schema,
		Name:       "Fact_Fichajes",
		Keys:       []string{"fecha", "empleado_id"},
		InsertOnly: true,
	}, fichajes)
	return err
}

// indexBy maps key values to rows; the first row per key wins.
func indexBy(t *etl.Table, key string) map[string]etl.Row {
	idx := make(map[string]etl.Row, t.Len())
	for _, r := range t.Rows {
		k := etl.Str(r[key])
		if _, seen := idx[k]; !seen {
			idx[k] = r
		}
	}
	return idx
}
