package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"classroom/internal/apperror"
	"classroom/internal/auth"
	"classroom/internal/classroom"
	"classroom/internal/mailer"
)

const (
	minPasswordLen = 6
	keyAttempts    = 5
)

// ClassLister lists every class; used to derive roster pointers and counts.
type ClassLister interface {
	ListClasses(ctx context.Context) ([]classroom.Class, error)
}

// TokenConfig configures session and reset tokens.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

// Session is the result of a successful sign in or refresh.
type Session struct {
	User   User           `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

// Service manages accounts and credentials.
type Service struct {
	repo        Repository
	classes     ClassLister
	mail        mailer.Mailer
	tokens      TokenConfig
	frontendURL string
	log         *zap.Logger
	now         func() time.Time
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, classes ClassLister, mail mailer.Mailer, tokens TokenConfig, frontendURL string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		classes:     classes,
		mail:        mail,
		tokens:      tokens,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         log,
		now:         time.Now,
	}
}

// CreateUser validates and stores a new account. Students without an
// enrollment number get one generated, staff likewise get a staff id.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (User, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.EnrollmentNumber = strings.TrimSpace(in.EnrollmentNumber)
	in.StaffID = strings.TrimSpace(in.StaffID)
	if err := apperror.Validate(in); err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLen {
		return User{}, apperror.ErrInvalidPassword
	}
	id := DocID(in.Email)
	if id == "" {
		return User{}, apperror.Invalid("email", "must contain letters or digits")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, errors.Wrap(err, "hash password")
	}

	u := User{
		ID:           id,
		Email:        in.Email,
		Name:         in.Name,
		Role:         in.Role,
		Department:   strings.TrimSpace(in.Department),
		Phone:        in.Phone,
		DOB:          in.DOB,
		Gender:       in.Gender,
		Details:      in.Details,
		PasswordHash: hash,
	}

	generated := false
	for attempt := 0; attempt < keyAttempts; attempt++ {
		switch u.Role {
		case RoleStudent:
			u.EnrollmentNumber = in.EnrollmentNumber
			if u.EnrollmentNumber == "" {
				generated = true
				u.EnrollmentNumber = s.enrollmentNumber(in)
			}
		case RoleStaff:
			u.StaffID = in.StaffID
			if u.StaffID == "" {
				generated = true
				u.StaffID = "STF-" + randomCode()
			}
		}

		created, err := s.repo.CreateUser(ctx, u)
		if errors.Is(err, ErrKeyExists) {
			if generated {
				continue
			}
			field := "enrollment_number"
			if u.Role == RoleStaff {
				field = "staff_id"
			}
			return User{}, apperror.NewValidationError(err, apperror.FieldError{Field: field, Error: err.Error()})
		}
		if err != nil {
			return User{}, err
		}
		s.log.Info("user created", zap.String("user_id", created.ID), zap.String("role", string(created.Role)))
		return created, nil
	}
	return User{}, apperror.Remote("users.create", errors.New("could not allocate a free business key"))
}

// SignIn checks credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	u, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, apperror.ErrNotFound) {
		return Session{}, apperror.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if len(u.PasswordHash) == 0 || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return Session{}, apperror.ErrInvalidCredentials
	}
	return s.session(ctx, u)
}

// Refresh trades a refresh token for a new session. The role is re-read
// from the account.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := auth.Parse(refreshToken, s.tokens.SigningKey, s.tokens.Issuer, auth.KindRefresh)
	if err != nil {
		return Session{}, apperror.ErrInvalidToken
	}
	u, err := s.repo.GetUser(ctx, claims.Subject)
	if errors.Is(err, apperror.ErrNotFound) {
		return Session{}, apperror.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return s.session(ctx, u)
}

// SendPasswordReset mails a reset link. Unknown addresses succeed silently.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	u, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, apperror.ErrNotFound) {
		s.log.Debug("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	token, err := auth.IssueReset(u.ID, fingerprint(u.PasswordHash), s.tokens.Issuer, s.tokens.SigningKey, s.tokens.ResetTTL)
	if err != nil {
		return err
	}
	link := fmt.Sprintf("%s/reset-password?token=%s", s.frontendURL, url.QueryEscape(token))
	err = s.mail.Send(ctx, mailer.Message{
		ToName:  u.Name,
		ToEmail: u.Email,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Hi %s,\n\nUse this link to choose a new password:\n%s\n\nThe link expires in %s.", u.Name, link, s.tokens.ResetTTL),
		HTML:    fmt.Sprintf(`<p>Hi %s,</p><p><a href="%s">Choose a new password</a>. The link expires in %s.</p>`, u.Name, link, s.tokens.ResetTTL),
	})
	return apperror.Remote("mail.send", err)
}

// ResetPassword sets a new password using a reset token. A token stops
// working once the password it was issued for has changed.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	claims, err := auth.Parse(token, s.tokens.SigningKey, s.tokens.Issuer, auth.KindReset)
	if err != nil {
		return apperror.ErrInvalidToken
	}
	if len(password) < minPasswordLen {
		return apperror.ErrInvalidPassword
	}
	u, err := s.repo.GetUser(ctx, claims.Subject)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.ErrInvalidToken
	}
	if err != nil {
		return err
	}
	if claims.Fingerprint != fingerprint(u.PasswordHash) {
		return apperror.ErrInvalidToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	return s.repo.SetPassword(ctx, u.ID, hash)
}

// GetUser returns an account with its derived class pointers.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.withClassesOne(ctx)(s.repo.GetUser(ctx, id))
}

// GetByEnrollment looks a student up by enrollment number.
func (s *Service) GetByEnrollment(ctx context.Context, enrollment string) (User, error) {
	return s.withClassesOne(ctx)(s.repo.GetByEnrollment(ctx, strings.TrimSpace(enrollment)))
}

// GetByStaffID looks a staff member up by staff id.
func (s *Service) GetByStaffID(ctx context.Context, staffID string) (User, error) {
	return s.withClassesOne(ctx)(s.repo.GetByStaffID(ctx, strings.TrimSpace(staffID)))
}

func (s *Service) withClassesOne(ctx context.Context) func(User, error) (User, error) {
	return func(u User, err error) (User, error) {
		if err != nil {
			return User{}, err
		}
		users, err := s.withClasses(ctx, []User{u})
		if err != nil {
			return User{}, err
		}
		return users[0], nil
	}
}

// ListUsers returns matching accounts with their derived class pointers.
func (s *Service) ListUsers(ctx context.Context, f Filter) ([]User, error) {
	f.Search = strings.TrimSpace(f.Search)
	users, err := s.repo.ListUsers(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.withClasses(ctx, users)
}

// UpdateUser changes the profile fields of an account.
func (s *Service) UpdateUser(ctx context.Context, id string, in UserUpdate) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := apperror.Validate(in); err != nil {
		return User{}, err
	}
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	u.Name = in.Name
	u.Department = strings.TrimSpace(in.Department)
	u.Phone = in.Phone
	u.DOB = in.DOB
	u.Gender = in.Gender
	u.Details = in.Details
	return s.repo.UpdateUser(ctx, u)
}

// DeleteUser removes an account. Roster entries keyed by its enrollment
// number or staff id are left for an admin to clean up.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.Info("user deleted", zap.String("user_id", id))
	return nil
}

// Summary counts accounts by role and classes.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	counts, err := s.repo.CountByRole(ctx)
	if err != nil {
		return Summary{}, err
	}
	classes, err := s.classes.ListClasses(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Students: counts[RoleStudent],
		Staff:    counts[RoleStaff],
		Admins:   counts[RoleAdmin],
		Classes:  len(classes),
	}, nil
}

func (s *Service) session(ctx context.Context, u User) (Session, error) {
	pair, err := auth.Issue(u.Principal(), s.tokens.Issuer, s.tokens.SigningKey, s.tokens.AccessTTL, s.tokens.RefreshTTL)
	if err != nil {
		return Session{}, err
	}
	users, err := s.withClasses(ctx, []User{u})
	if err != nil {
		return Session{}, err
	}
	return Session{User: users[0], Tokens: pair}, nil
}

// withClasses fills Class for students and AssignedClasses for staff from
// the current rosters. A student on several rosters points at the first
// class by id.
func (s *Service) withClasses(ctx context.Context, users []User) ([]User, error) {
	classes, err := s.classes.ListClasses(ctx)
	if err != nil {
		return nil, err
	}
	studentClass := map[string]string{}
	staffClasses := map[string][]string{}
	for _, c := range classes {
		for _, e := range c.Students {
			if _, ok := studentClass[e]; !ok {
				studentClass[e] = c.ClassID
			}
		}
		for _, id := range c.Staff {
			staffClasses[id] = append(staffClasses[id], c.ClassID)
		}
	}
	for i := range users {
		switch users[i].Role {
		case RoleStudent:
			users[i].Class = studentClass[users[i].EnrollmentNumber]
		case RoleStaff:
			users[i].AssignedClasses = staffClasses[users[i].StaffID]
		}
	}
	return users, nil
}

// enrollmentNumber builds <year><PROGRAM2><RND3>, e.g. 2024CSA1F.
func (s *Service) enrollmentNumber(in NewUser) string {
	year := in.AdmissionYear
	if year == 0 {
		year = s.now().Year()
	}
	program := strings.TrimSpace(in.Program)
	if program == "" {
		program = in.Department
	}
	code := "CS"
	if letters := []rune(strings.ToUpper(strings.ReplaceAll(program, " ", ""))); len(letters) >= 2 {
		code = string(letters[:2])
	}
	return strconv.Itoa(year) + code + randomCode()
}

func randomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:3])
}

func fingerprint(hash []byte) string {
	sum := sha256.Sum256(hash)
	return hex.EncodeToString(sum[:8])
}
