package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// WorkHistoryEntry is one job the employee completed on the platform.
type WorkHistoryEntry struct {
	JobID        uuid.UUID  `json:"job_id"`
	JobTitle     string     `json:"job_title"`
	EmployerName string     `json:"employer_name"`
	CompletedAt  *time.Time `json:"completed_at"`
	DurationDays int        `json:"duration_days"`
	WorkSummary  string     `json:"work_summary"`
	BudgetCents  int64      `json:"budget_cents"`
}

type HiredWorker struct {
	JobID         uuid.UUID  `json:"job_id"`
	JobTitle      string     `json:"job_title"`
	EmployeeID    uuid.UUID  `json:"employee_id"`
	EmployeeName  string     `json:"employee_name"`
	EmployeePhone string     `json:"employee_phone"`
	AssignedAt    *time.Time `json:"assigned_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	Status        string     `json:"status"`
	DurationDays  int        `json:"duration_days"`
}

type Applicant struct {
	ApplicationID uuid.UUID          `json:"application_id"`
	EmployeeID    uuid.UUID          `json:"employee_id"`
	EmployeeName  string             `json:"employee_name"`
	EmployeePhone string             `json:"employee_phone"`
	WorkHistory   []WorkHistoryEntry `json:"work_history"`
}

type OpenJobApplicants struct {
	JobID          uuid.UUID   `json:"job_id"`
	JobTitle       string      `json:"job_title"`
	ApplicantCount int         `json:"applicant_count"`
	Applicants     []Applicant `json:"applicants"`
}

// WorkersOverview is the employer's view of everyone working for them and of
// who is waiting on their open listings.
type WorkersOverview struct {
	HiredWorkers []HiredWorker       `json:"hired_workers"`
	OpenJobs     []OpenJobApplicants `json:"open_jobs_with_applicants"`
}

// WorkHistory lists the jobs the employee completed through an escrow,
// newest first.
func (s *service) WorkHistory(ctx context.Context, employeeID uuid.UUID) ([]WorkHistoryEntry, error) {
	if _, err := s.userWithRole(ctx, employeeID, models.RoleEmployee); err != nil {
		return nil, err
	}
	return s.workHistory(ctx, employeeID, map[uuid.UUID]*models.User{})
}

func (s *service) workHistory(ctx context.Context, employeeID uuid.UUID, names map[uuid.UUID]*models.User) ([]WorkHistoryEntry, error) {
	list, err := s.repo.ListJobsForEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	out := []WorkHistoryEntry{}
	for _, j := range list {
		if j.Status != models.JobStatusCompleted || j.CompletedAt == nil || j.EmployeeID == nil || *j.EmployeeID != employeeID {
			continue
		}
		employer, err := s.cachedUser(ctx, names, j.EmployerID)
		if err != nil {
			return nil, err
		}
		out = append(out, WorkHistoryEntry{
			JobID:        j.ID,
			JobTitle:     j.Title,
			EmployerName: employer.DisplayName,
			CompletedAt:  j.CompletedAt,
			DurationDays: durationDays(j, *j.CompletedAt),
			WorkSummary:  j.WorkSummary,
			BudgetCents:  j.BudgetCents,
		})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CompletedAt.After(*out[b].CompletedAt) })
	return out, nil
}

// WorkersOverview lists hired workers with how long they have worked, and
// open listings with their pending applicants and each applicant's history.
func (s *service) WorkersOverview(ctx context.Context, employerID uuid.UUID) (*WorkersOverview, error) {
	if _, err := s.userWithRole(ctx, employerID, models.RoleEmployer); err != nil {
		return nil, err
	}
	list, err := s.repo.ListJobsByEmployer(ctx, employerID)
	if err != nil {
		return nil, err
	}
	users := map[uuid.UUID]*models.User{}
	histories := map[uuid.UUID][]WorkHistoryEntry{}
	now := time.Now().UTC()
	ov := &WorkersOverview{HiredWorkers: []HiredWorker{}, OpenJobs: []OpenJobApplicants{}}

	for _, j := range list {
		if j.EmployeeID != nil {
			worker, err := s.cachedUser(ctx, users, *j.EmployeeID)
			if err != nil {
				return nil, err
			}
			end := now
			if j.CompletedAt != nil {
				end = *j.CompletedAt
			}
			ov.HiredWorkers = append(ov.HiredWorkers, HiredWorker{
				JobID:         j.ID,
				JobTitle:      j.Title,
				EmployeeID:    worker.ID,
				EmployeeName:  worker.DisplayName,
				EmployeePhone: worker.Phone,
				AssignedAt:    j.AssignedAt,
				CompletedAt:   j.CompletedAt,
				Status:        j.Status,
				DurationDays:  durationDays(j, end),
			})
		}
		if j.Status != models.JobStatusOpen {
			continue
		}
		apps, err := s.repo.ListApplicationsByJob(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		entry := OpenJobApplicants{JobID: j.ID, JobTitle: j.Title, Applicants: []Applicant{}}
		for _, a := range apps {
			if a.Status != models.ApplicationPending {
				continue
			}
			applicant, err := s.cachedUser(ctx, users, a.EmployeeID)
			if err != nil {
				return nil, err
			}
			history, ok := histories[a.EmployeeID]
			if !ok {
				if history, err = s.workHistory(ctx, a.EmployeeID, users); err != nil {
					return nil, err
				}
				histories[a.EmployeeID] = history
			}
			entry.Applicants = append(entry.Applicants, Applicant{
				ApplicationID: a.ID,
				EmployeeID:    a.EmployeeID,
				EmployeeName:  applicant.DisplayName,
				EmployeePhone: applicant.Phone,
				WorkHistory:   history,
			})
		}
		entry.ApplicantCount = len(entry.Applicants)
		ov.OpenJobs = append(ov.OpenJobs, entry)
	}
	return ov, nil
}

// AssignApplication assigns the job to the employee behind a pending
// application for it.
func (s *service) AssignApplication(ctx context.Context, jobID, employerID, applicationID uuid.UUID) (*models.JobListing, error) {
	apps, err := s.repo.ListApplicationsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, a := range apps {
		if a.ID != applicationID {
			continue
		}
		if a.Status != models.ApplicationPending {
			return nil, fmt.Errorf("application %s is %s: %w", applicationID, a.Status, apperr.ErrInvalidState)
		}
		return s.Assign(ctx, jobID, employerID, a.EmployeeID)
	}
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("application %s for job %s: %w", applicationID, jobID, apperr.ErrNotFound)
}

func (s *service) cachedUser(ctx context.Context, cache map[uuid.UUID]*models.User, id uuid.UUID) (*models.User, error) {
	if u, ok := cache[id]; ok {
		return u, nil
	}
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		u = &models.User{ID: id}
	} else if err != nil {
		return nil, err
	}
	cache[id] = u
	return u, nil
}

// durationDays counts whole days from assignment, or listing when the job
// was never assigned, to end.
func durationDays(j *models.JobListing, end time.Time) int {
	start := j.CreatedAt
	if j.AssignedAt != nil {
		start = *j.AssignedAt
	}
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / (24 * time.Hour))
}
