// drafts.go — DraftService: создание, чтение и изменение черновиков.
//
// Изменения (статус, оплата, удаление) выполняются под блокировкой
// ключа: чтение текущей записи, проверка владения, проверка перехода
// и запись идут одной критической секцией, поэтому два параллельных
// изменения одного черновика не теряют друг друга.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/trail-module/internal/authz"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/model"
	"github.com/bigkaa/goartstore/trail-module/internal/domain/ttl"
	"github.com/bigkaa/goartstore/trail-module/internal/keylock"
	"github.com/bigkaa/goartstore/trail-module/internal/repository"
	"github.com/bigkaa/goartstore/trail-module/internal/token"
)

// ErrValidation — некорректные входные данные.
var ErrValidation = errors.New("некорректные данные")

// reservedCodes — коды, совпадающие с литеральными сегментами маршрутов.
var reservedCodes = map[string]bool{
	"mine": true,
}

// CreateDraftInput — данные для создания черновика.
type CreateDraftInput struct {
	ReferenceCode string          `json:"referenceCode" validate:"required,max=128,excludesall=/?#%"`
	OwnerID       string          `json:"ownerId" validate:"omitempty,max=128,excludes=:"`
	OwnerEmail    string          `json:"ownerEmail" validate:"required,email,max=254"`
	Payload       json.RawMessage `json:"payload"`
}

// CreateDraftResult — созданный черновик и токен сессии его владельца.
type CreateDraftResult struct {
	Draft *model.DraftTrail
	Token string
}

// Session — возобновлённая сессия по самоподписанному токену.
type Session struct {
	Subject  string
	IssuedAt time.Time
	Drafts   []*model.DraftTrail
}

// SessionTokens — выпуск и проверка самоподписанных токенов.
type SessionTokens interface {
	IssueSelfSignedToken(subject string) (string, error)
	VerifySelfSignedToken(tok string) (*token.SelfIdentity, error)
}

// DraftService — сервис черновиков.
type DraftService struct {
	repo     repository.DraftRepository
	machine  *lifecycle.Machine
	policy   ttl.Policy
	clock    ttl.Clock
	tokens   SessionTokens
	cache    *CacheService
	locks    *keylock.Locker
	validate *validator.Validate
	logger   *slog.Logger
}

// NewDraftService создаёт сервис черновиков.
// cache может быть nil — чтение идёт напрямую в хранилище.
func NewDraftService(
	repo repository.DraftRepository,
	machine *lifecycle.Machine,
	policy ttl.Policy,
	clock ttl.Clock,
	tokens SessionTokens,
	cache *CacheService,
	logger *slog.Logger,
) *DraftService {
	return &DraftService{
		repo:     repo,
		machine:  machine,
		policy:   policy,
		clock:    clock,
		tokens:   tokens,
		cache:    cache,
		locks:    keylock.New(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "draft_service")),
	}
}

// Create создаёт черновик или заменяет существующий с тем же кодом.
// Новый черновик: статус draft, не оплачен, expiresAt = now + TTL.
// Если ownerId не задан, генерируется UUID. Возвращает токен для ownerId.
func (s *DraftService) Create(ctx context.Context, in CreateDraftInput) (*CreateDraftResult, error) {
	in.ReferenceCode = strings.TrimSpace(in.ReferenceCode)
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.OwnerEmail = strings.TrimSpace(in.OwnerEmail)

	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, validationMessage(err))
	}
	if reservedCodes[strings.ToLower(in.ReferenceCode)] {
		return nil, fmt.Errorf("%w: код %q зарезервирован", ErrValidation, in.ReferenceCode)
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return nil, fmt.Errorf("%w: payload не является JSON", ErrValidation)
	}
	if in.OwnerID == "" {
		in.OwnerID = uuid.NewString()
	}

	unlock, err := s.locks.Lock(ctx, in.ReferenceCode)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.clock.Now()
	stored, err := s.repo.Create(ctx, &model.DraftTrail{
		ReferenceCode: in.ReferenceCode,
		OwnerID:       in.OwnerID,
		OwnerEmail:    in.OwnerEmail,
		Payload:       in.Payload,
		Status:        lifecycle.StatusDraft,
		CreatedAt:     now,
		ExpiresAt:     s.policy.ExpiresAt(now),
	})
	s.cache.Delete(in.ReferenceCode)
	if err != nil {
		return nil, fmt.Errorf("создание черновика %s: %w", in.ReferenceCode, err)
	}

	tok, err := s.tokens.IssueSelfSignedToken(stored.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("выпуск токена сессии: %w", err)
	}

	s.logger.Info("Черновик сохранён",
		slog.String("reference_code", stored.ReferenceCode),
		slog.String("owner_id", stored.OwnerID),
		slog.Int64("version", stored.Version),
	)
	return &CreateDraftResult{Draft: stored, Token: tok}, nil
}

// Get возвращает черновик по коду без аутентификации.
// Запись из кэша повторно проверяется на истечение; истёкшая запись
// передаётся хранилищу, которое удаляет её и возвращает ErrGone.
func (s *DraftService) Get(ctx context.Context, code string) (*model.DraftTrail, error) {
	now := s.clock.Now()
	if d, ok := s.cache.Get(code); ok {
		if !d.IsExpired(now) {
			return d.WithDaysRemaining(now), nil
		}
		s.cache.Delete(code)
	}

	// Промах читается под блокировкой ключа, чтобы не положить в кэш
	// запись, которую параллельно меняет писатель.
	unlock, err := s.locks.Lock(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := s.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	s.cache.Set(d)
	return d, nil
}

// ListOwn возвращает черновики владельца по email идентичности.
func (s *DraftService) ListOwn(ctx context.Context, id *token.Identity) ([]*model.DraftTrail, error) {
	if id == nil {
		return nil, authz.ErrForbidden
	}
	return s.repo.ListByOwner(ctx, id.Email)
}

// ListAll возвращает все актуальные черновики (после полной очистки).
func (s *DraftService) ListAll(ctx context.Context) ([]*model.DraftTrail, error) {
	return s.repo.List(ctx)
}

// UpdateStatus меняет статус черновика владельцем.
// Запись того же статуса ничего не меняет и возвращает текущую запись.
func (s *DraftService) UpdateStatus(ctx context.Context, id *token.Identity, code, status string) (*model.DraftTrail, error) {
	target, err := lifecycle.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return s.mutate(ctx, id, code, func(current *model.DraftTrail) (*model.DraftTrail, error) {
		if err := s.machine.Check(current.Status, target); err != nil {
			return nil, err
		}
		if current.Status == target {
			return current, nil
		}

		updated, err := s.repo.UpdateStatus(ctx, code, target, current.Version)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Статус черновика изменён",
			slog.String("reference_code", code),
			slog.String("from", string(current.Status)),
			slog.String("to", string(target)),
		)
		return updated, nil
	})
}

// UpdatePaid устанавливает флаг оплаты владельцем.
// Повторная установка того же значения не меняет paidAt.
func (s *DraftService) UpdatePaid(ctx context.Context, id *token.Identity, code string, isPaid bool) (*model.DraftTrail, error) {
	return s.mutate(ctx, id, code, func(current *model.DraftTrail) (*model.DraftTrail, error) {
		if current.IsPaid == isPaid {
			return current, nil
		}

		updated, err := s.repo.UpdatePaid(ctx, code, isPaid, current.Version)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Флаг оплаты черновика изменён",
			slog.String("reference_code", code),
			slog.Bool("is_paid", isPaid),
		)
		return updated, nil
	})
}

// Delete удаляет черновик владельцем.
func (s *DraftService) Delete(ctx context.Context, id *token.Identity, code string) error {
	_, err := s.mutate(ctx, id, code, func(current *model.DraftTrail) (*model.DraftTrail, error) {
		if _, err := s.repo.Delete(ctx, code); err != nil {
			return nil, err
		}
		s.logger.Info("Черновик удалён", slog.String("reference_code", code))
		return current, nil
	})
	return err
}

// Session проверяет самоподписанный токен и возвращает черновики его subject.
func (s *DraftService) Session(ctx context.Context, selfToken string) (*Session, error) {
	self, err := s.tokens.VerifySelfSignedToken(selfToken)
	if err != nil {
		return nil, err
	}

	drafts, err := s.repo.ListByOwnerID(ctx, self.Subject)
	if err != nil {
		return nil, err
	}
	return &Session{Subject: self.Subject, IssuedAt: self.IssuedAt, Drafts: drafts}, nil
}

// mutate выполняет изменение под блокировкой ключа: читает актуальную
// запись, проверяет владение и вызывает apply. Кэш инвалидируется
// при любом исходе.
func (s *DraftService) mutate(
	ctx context.Context,
	id *token.Identity,
	code string,
	apply func(current *model.DraftTrail) (*model.DraftTrail, error),
) (*model.DraftTrail, error) {
	unlock, err := s.locks.Lock(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer s.cache.Delete(code)

	current, err := s.repo.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := authz.AuthorizeMutation(id, current); err != nil {
		s.logger.Warn("Изменение чужого черновика отклонено",
			slog.String("reference_code", code),
		)
		return nil, err
	}

	return apply(current)
}

// validationMessage формирует сообщение по ошибкам validator.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := jsonFieldName(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" обязателен")
		case "email":
			msgs = append(msgs, field+" должен быть email")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s длиннее %s символов", field, fe.Param()))
		case "excludes", "excludesall":
			msgs = append(msgs, fmt.Sprintf("%s не должен содержать символы %q", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: нарушено правило %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// jsonFieldName переводит имя поля Go в имя JSON-поля API.
func jsonFieldName(field string) string {
	switch field {
	case "ReferenceCode":
		return "referenceCode"
	case "OwnerID":
		return "ownerId"
	case "OwnerEmail":
		return "ownerEmail"
	default:
		return field
	}
}
