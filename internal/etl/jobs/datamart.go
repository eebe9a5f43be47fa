package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

var dmImputacionesCols = []string{
	"imputacion_id", "empleado_id", "nombres", "apellidos",
	"nombre_departamento", "fecha", "year", "mes", "nombre_cliente",
	"id_cliente", "nombre_proyecto", "id_proyecto", "etiquetas",
	"hora_inicio", "hora_fin", "costo_hora_empresa", "horas_imputadas",
}

// DMImputationsJob derives the reporting datamart of imputations from
// the warehouse alone; it touches no upstream API.
func (e *Env) DMImputationsJob(w sesame.Window) orchestration.JobFunc {
	return instrument("dm_imputations", func(ctx context.Context, progress func(string)) error {
		return e.runDMImputations(ctx, w, progress)
	})
}

func (e *Env) runDMImputations(ctx context.Context, w sesame.Window, progress func(string)) error {
	progress("reading warehouse tables")
	dimEmpleado, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Empleado")
	if err != nil {
		return fmt.Errorf("read Dim_Empleado: %w", err)
	}
	dimDepartment, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Department")
	if err != nil {
		return fmt.Errorf("read Dim_Department: %w", err)
	}
	assignments, err := e.WH.ReadTable(ctx, e.Schema, "Fact_Department_Assignation")
	if err != nil {
		return fmt.Errorf("read Fact_Department_Assignation: %w", err)
	}
	dimProject, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Project")
	if err != nil {
		return fmt.Errorf("read Dim_Project: %w", err)
	}
	timeEntries, err := e.WH.Select(ctx, fmt.Sprintf(
		`SELECT * FROM %q.%q WHERE time_entry_in::date BETWEEN $1 AND $2`,
		e.Schema, "Fact_Time_Entry"),
		w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("read Fact_Time_Entry window: %w", err)
	}

	projByID := indexBy(dimProject, "project_sesame_id")
	empByID := indexBy(dimEmpleado, "empleado_sesame_id")
	deptByEmployee := indexBy(
		etl.LatestPerKey(assignments, "employee_sesame_id", "update_date"),
		"employee_sesame_id")
	deptByID := indexBy(dimDepartment, "department_sesame_id")

	progress("building datamart rows")
	out := etl.NewTable(dmImputacionesCols...)
	for _, te := range timeEntries.Rows {
		in := asTime(te["time_entry_in"])
		teOut := asTime(te["time_entry_out"])
		employeeID := etl.Str(te["employee_sesame_id"])

		row := etl.Row{
			"imputacion_id":   te["time_entry_sesame_id"],
			"empleado_id":     te["employee_sesame_id"],
			"id_proyecto":     te["project_sesame_id"],
			"etiquetas":       te["tags"],
			"fecha":           in.UTC().Truncate(24 * time.Hour),
			"year":            int64(in.UTC().Year()),
			"mes":             int64(in.UTC().Month()),
			"hora_inicio":     in.UTC().Format("15:04"),
			"hora_fin":        teOut.UTC().Format("15:04"),
			"horas_imputadas": teOut.Sub(in).Hours(),
		}
		if proj, ok := projByID[etl.Str(te["project_sesame_id"])]; ok {
			row["nombre_proyecto"] = proj["project_name"]
			row["id_cliente"] = proj["customer_sesame_id"]
			row["nombre_cliente"] = proj["customer_name"]
		}
		if emp, ok := empByID[employeeID]; ok {
			row["nombres"] = emp["nombre"]
			row["apellidos"] = emp["apellidos"]
			row["costo_hora_empresa"] = emp["costo_hora_empresa"]
		}
		if assign, ok := deptByEmployee[employeeID]; ok {
			if dept, ok := deptByID[etl.Str(assign["department_sesame_id"])]; ok {
				row["nombre_departamento"] = dept["department_name"]
			}
		}
		out.Append(row)
	}

	progress("loading DM_Imputaciones")
	_, err = e.load(ctx, etl.TableSpec{
		Schema: e.datamartSchema(),
		Name:   "DM_Imputaciones",
		Keys:   []string{"imputacion_id"},
	}, out)
	return err
}

var dmHorasTrabajadasCols = []string{
	"fichaje_diario_id", "empleado_id", "nombres", "apellidos", "fecha",
	"tiempo_teorico", "tiempo_trabajado",
}

// DMWorkedHoursJob derives the daily hours datamart from the
// warehouse. Stored second counters become fractional hours.
func (e *Env) DMWorkedHoursJob(w sesame.Window) orchestration.JobFunc {
	return instrument("dm_worked_hours", func(ctx context.Context, progress func(string)) error {
		return e.runDMWorkedHours(ctx, w, progress)
	})
}

func (e *Env) runDMWorkedHours(ctx context.Context, w sesame.Window, progress func(string)) error {
	progress("reading warehouse tables")
	dimEmpleado, err := e.WH.ReadTable(ctx, e.Schema, "Dim_Empleado")
	if err != nil {
		return fmt.Errorf("read Dim_Empleado: %w", err)
	}
	workedHours, err := e.WH.Select(ctx, fmt.Sprintf(
		`SELECT * FROM %q.%q WHERE date::date BETWEEN $1 AND $2`,
		e.Schema, "Fact_Worked_Hours"),
		w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("read Fact_Worked_Hours window: %w", err)
	}

	empByID := indexBy(dimEmpleado, "empleado_sesame_id")

	progress("building datamart rows")
	out := etl.NewTable(dmHorasTrabajadasCols...)
	for _, wh := range workedHours.Rows {
		employeeID := etl.Str(wh["employee_sesame_id"])
		day := asTime(wh["date"])
		toWork, _ := etl.Float(wh["to_work_time"])
		worked, _ := etl.Float(wh["worked_time"])

		row := etl.Row{
			// The fact table has no surrogate id; employee and day
			// identify a fichaje.
			"fichaje_diario_id": employeeID + "_" + day.UTC().Format("2006-01-02"),
			"empleado_id":       employeeID,
			"fecha":             day,
			"tiempo_teorico":    toWork / 3600,
			"tiempo_trabajado":  worked / 3600,
		}
		if emp, ok := empByID[employeeID]; ok {
			row["nombres"] = emp["nombre"]
			row["apellidos"] = emp["apellidos"]
		}
		out.Append(row)
	}

	progress("loading DM_Horas_Trabajadas")
	_, err = e.load(ctx, etl.TableSpec{
		Schema: e.datamartSchema(),
		Name:   "DM_Horas_Trabajadas",
		Keys:   []string{"fichaje_diario_id"},
	}, out)
	return err
}
