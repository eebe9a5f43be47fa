package jobs

import (
	"context"
	"fmt"

	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

var dimProjectCols = []string{
	"project_sesame_id", "project_name", "customer_sesame_id",
	"customer_name", "project_status",
}

// ProjectsJob syncs the project dimension.
func (e *Env) ProjectsJob() orchestration.JobFunc {
	return instrument("projects", e.runProjects)
}

func (e *Env) runProjects(ctx context.Context, progress func(string)) error {
	progress("fetching projects")
	records, err := e.Sesame.Projects(ctx, 0)
	flat, err := e.fetchFlat(ctx, "projects", records, err, etl.ProjectCols, etl.FlattenProject)
	if err != nil {
		return fmt.Errorf("fetch projects: %w", err)
	}

	out := etl.NewTable(dimProjectCols...)
	for _, r := range flat.Rows {
		out.Append(etl.Row{
			"project_sesame_id":  r["id"],
			"project_name":       r["name"],
			"customer_sesame_id": r["customer_id"],
			"customer_name":      r["customer_name"],
			"project_status":     r["project_status"],
		})
	}

	progress("loading Dim_Project")
	_, err = e.load(ctx, etl.TableSpec{
		Schema: e.Schema,
		Name:   "Dim_Project",
		Keys:   []string{"project_sesame_id"},
	}, out)
	return err
}

var factDepartmentAssignationCols = []string{
	"department_assignation_sesame_id", "employee_sesame_id",
	"department_sesame_id", "creation_date", "update_date",
}

// DepartmentAssignmentsJob syncs the assignment history fact.
func (e *Env) DepartmentAssignmentsJob() orchestration.JobFunc {
	return instrument("department_assignments", e.runDepartmentAssignments)
}

func (e *Env) runDepartmentAssignments(ctx context.Context, progress func(string)) error {
	progress("fetching department assignments")
	records, err := e.Sesame.DepartmentAssignments(ctx, 0)
	flat, err := e.fetchFlat(ctx, "department-assignments", records, err,
		etl.DepartmentAssignmentCols, etl.FlattenDepartmentAssignment)
	if err != nil {
		return fmt.Errorf("fetch department assignments: %w", err)
	}

	out := etl.NewTable(factDepartmentAssignationCols...)
	for _, r := range flat.Rows {
		out.Append(etl.Row{
			"department_assignation_sesame_id": r["id"],
			"employee_sesame_id":               r["employee_id"],
			"department_sesame_id":             r["department_id"],
			"creation_date":                    etl.Timestamp(r["created_at"]),
			"update_date":                      etl.Timestamp(r["updated_at"]),
		})
	}

	progress("loading Fact_Department_Assignation")
	_, err = e.load(ctx, etl.TableSpec{
		Schema: e.Schema,
		Name:   "Fact_Department_Assignation",
		Keys:   []string{"department_assignation_sesame_id"},
	}, out)
	return err
}
