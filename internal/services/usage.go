package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/internal/storage"
	"gorm.io/gorm"
)

const (
	yearUsersUsagePrefix     = "usage-analysis/year-users-summary-"
	monthUsersUsagePrefix    = "usage-analysis/month-users-summary-"
	yearResourcesUsagePrefix = "usage-analysis/year-resources-summary-"
	usageMonthsBack          = 12
	privateEndpointMarker    = "/private/"
)

var usageLocation = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ObjectReader is the part of the storage client the usage reader needs.
type ObjectReader interface {
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
}

// UsageCounts maps a key (resource, email, day or month) to a request count.
// Report files sometimes carry counts as floating point numbers.
type UsageCounts map[string]int64

func (c *UsageCounts) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(UsageCounts, len(raw))
	for k, v := range raw {
		out[k] = int64(v)
	}
	*c = out
	return nil
}

func (c UsageCounts) Total() int64 {
	var total int64
	for _, v := range c {
		total += v
	}
	return total
}

type UsageSummary struct {
	Year  UsageCounts            `json:"year"`
	Month map[string]UsageCounts `json:"month"`
	Day   map[string]UsageCounts `json:"day"`
}

func newUsageSummary() UsageSummary {
	return UsageSummary{
		Year:  UsageCounts{},
		Month: map[string]UsageCounts{},
		Day:   map[string]UsageCounts{},
	}
}

func (u UsageSummary) withDefaults() UsageSummary {
	if u.Year == nil {
		u.Year = UsageCounts{}
	}
	if u.Month == nil {
		u.Month = map[string]UsageCounts{}
	}
	if u.Day == nil {
		u.Day = map[string]UsageCounts{}
	}
	return u
}

// monthUserUsage is one user's entry in a monthly report: per-day resource
// counts and the month's resource totals.
type monthUserUsage struct {
	Day   map[string]UsageCounts `json:"day"`
	Month UsageCounts            `json:"month"`
}

type UserUsage struct {
	UserFirstName string       `json:"userFirstName"`
	UserLastName  string       `json:"userLastName"`
	UserEmail     string       `json:"userEmail"`
	LicenseType   string       `json:"licenseType,omitempty"`
	JobTitle      string       `json:"jobTitle"`
	Company       string       `json:"company"`
	Summary       UsageSummary `json:"summary"`
}

type UserOverviewUsage struct {
	UserID                      string      `json:"userId,omitempty"`
	UserEmail                   string      `json:"userEmail"`
	TotalUsage                  int64       `json:"totalUsage"`
	Endpoint                    string      `json:"endpoint"`
	MaxUsageProportion          float64     `json:"maxUsageProportion"`
	NoPrivateEndpoint           string      `json:"noPrivateEndpoint"`
	NoPrivateMaxUsageProportion float64     `json:"noPrivateMaxUsageProportion"`
	DayUsage                    UsageCounts `json:"dayUsage"`
	MonthUsage                  UsageCounts `json:"monthUsage"`
}

// UsageService reshapes the precomputed usage reports kept in the usage
// bucket. Report periods follow New York time.
type UsageService struct {
	DB      *gorm.DB
	Objects ObjectReader
	Clock   Clock
}

func NewUsageService(db *gorm.DB, objects ObjectReader, clock Clock) *UsageService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &UsageService{DB: db, Objects: objects, Clock: clock}
}

func (s *UsageService) now() time.Time {
	return s.Clock.Now().In(usageLocation)
}

// readJSON decodes a report object into v. A missing object leaves v
// untouched and reports false.
func (s *UsageService) readJSON(ctx context.Context, name string, v interface{}) (bool, error) {
	if s.Objects == nil {
		return false, nil
	}
	body, err := s.Objects.Download(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("download %s: %w", name, err)
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

func (s *UsageService) yearUsers(ctx context.Context) (map[string]UsageSummary, bool, error) {
	var summary map[string]UsageSummary
	name := fmt.Sprintf("%s%d.json", yearUsersUsagePrefix, s.now().Year())
	ok, err := s.readJSON(ctx, name, &summary)
	return summary, ok, err
}

// monthUsers loads the monthly user reports of the last twelve months keyed
// by "2006-01". Months without a report are left out.
func (s *UsageService) monthUsers(ctx context.Context) (map[string]map[string]monthUserUsage, error) {
	now := s.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, usageLocation)

	months := make(map[string]map[string]monthUserUsage)
	for i := 0; i < usageMonthsBack; i++ {
		month := first.AddDate(0, -i, 0).Format("2006-01")
		var report map[string]monthUserUsage
		ok, err := s.readJSON(ctx, monthUsersUsagePrefix+month+".json", &report)
		if err != nil {
			return nil, err
		}
		if ok {
			months[month] = report
		}
	}
	return months, nil
}

func (s *UsageService) UserUsage(ctx context.Context, userID uuid.UUID) (*UserUsage, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).Preload("Details").Preload("Company").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	yearSummary, ok, err := s.yearUsers(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &UserUsage{Summary: newUsageSummary()}, nil
	}
	monthReports, err := s.monthUsers(ctx)
	if err != nil {
		return nil, err
	}

	summary := newUsageSummary()
	if entry, found := yearSummary[user.Email]; found {
		summary = entry.withDefaults()
		if len(monthReports) > 0 {
			summary.Day = map[string]UsageCounts{}
			summary.Month = map[string]UsageCounts{}
			for month, report := range monthReports {
				usage, found := report[user.Email]
				if !found {
					continue
				}
				for day, counts := range usage.Day {
					summary.Day[day] = counts
				}
				summary.Month[month] = usage.Month
			}
		}
	}

	result := &UserUsage{
		UserFirstName: user.FirstName,
		UserLastName:  user.LastName,
		UserEmail:     user.Email,
		LicenseType:   user.LicenseType.Name(),
		Summary:       summary,
	}
	if user.Details != nil {
		result.JobTitle = user.Details.JobTitle
		result.Company = user.Details.CompanyName
	}
	if user.Company != nil {
		result.Company = user.Company.Name
	}
	return result, nil
}

// proportion is part/total as a percentage truncated to one decimal place.
func proportion(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(int64(1000*float64(part)/float64(total))) / 10
}

// UserOverviewUsage summarises every user in the current year's report,
// optionally restricted to members of one company.
func (s *UsageService) UserOverviewUsage(ctx context.Context, companyID *uuid.UUID) ([]UserOverviewUsage, error) {
	yearSummary, ok, err := s.yearUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := []UserOverviewUsage{}
	if !ok {
		return result, nil
	}
	monthReports, err := s.monthUsers(ctx)
	if err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(yearSummary))
	for email := range yearSummary {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	users, err := s.usersByEmail(ctx, emails)
	if err != nil {
		return nil, err
	}

	for _, email := range emails {
		user, known := users[strings.ToLower(email)]
		if companyID != nil && (!known || user.CompanyID == nil || *user.CompanyID != *companyID) {
			continue
		}

		cur := UserOverviewUsage{
			UserEmail:  email,
			DayUsage:   UsageCounts{},
			MonthUsage: UsageCounts{},
		}
		if known {
			cur.UserID = user.ID.String()
		}

		var maxUsage, noPrivateMaxUsage int64
		for resource, count := range yearSummary[email].Year {
			cur.TotalUsage += count
			if count > maxUsage || (count == maxUsage && resource < cur.Endpoint) {
				cur.Endpoint = resource
				maxUsage = count
			}
			if !strings.Contains(resource, privateEndpointMarker) &&
				(count > noPrivateMaxUsage || (count == noPrivateMaxUsage && resource < cur.NoPrivateEndpoint)) {
				cur.NoPrivateEndpoint = resource
				noPrivateMaxUsage = count
			}
		}
		cur.MaxUsageProportion = proportion(maxUsage, cur.TotalUsage)
		cur.NoPrivateMaxUsageProportion = proportion(noPrivateMaxUsage, cur.TotalUsage)

		for month, report := range monthReports {
			usage, found := report[email]
			if !found {
				continue
			}
			var monthCount int64
			for day, counts := range usage.Day {
				dayCount := counts.Total()
				cur.DayUsage[day] = dayCount
				monthCount += dayCount
			}
			cur.MonthUsage[month] = monthCount
		}

		result = append(result, cur)
	}
	return result, nil
}

func (s *UsageService) usersByEmail(ctx context.Context, emails []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(emails))
	if len(emails) == 0 {
		return out, nil
	}
	lowered := make([]string, len(emails))
	for i, e := range emails {
		lowered[i] = strings.ToLower(e)
	}

	var users []models.User
	if err := s.DB.WithContext(ctx).Where("lower(email) IN ?", lowered).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[strings.ToLower(u.Email)] = u
	}
	return out, nil
}

func (s *UsageService) ResourceUsageSummary(ctx context.Context) (UsageSummary, error) {
	summary := newUsageSummary()
	name := fmt.Sprintf("%s%d.json", yearResourcesUsagePrefix, s.now().Year())
	if _, err := s.readJSON(ctx, name, &summary); err != nil {
		return newUsageSummary(), err
	}
	return summary.withDefaults(), nil
}

// ResourceDetail breaks one endpoint's usage down per user: yearly totals in
// Year, and per month in Month keyed by user email.
func (s *UsageService) ResourceDetail(ctx context.Context, endpoint string) (UsageSummary, error) {
	detail := newUsageSummary()

	resources, err := s.ResourceUsageSummary(ctx)
	if err != nil {
		return detail, err
	}
	if _, found := resources.Year[endpoint]; !found {
		return detail, nil
	}
	users, ok, err := s.yearUsers(ctx)
	if err != nil || !ok {
		return detail, err
	}

	for email, summary := range users {
		var yearUsage int64
		for month, counts := range summary.Month {
			count, found := counts[endpoint]
			if !found {
				continue
			}
			if detail.Month[month] == nil {
				detail.Month[month] = UsageCounts{}
			}
			detail.Month[month][email] = count
			yearUsage += count
		}
		detail.Year[email] = yearUsage
	}
	return detail, nil
}
