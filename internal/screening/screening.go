package screening

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/iamwavecut/doorbot/internal/adapters"
	"github.com/iamwavecut/doorbot/internal/config"
	"github.com/iamwavecut/doorbot/internal/observability"
)

type (
	// Member is the screening view of a joining user.
	Member struct {
		ID        int64
		Username  string
		FirstName string
		LastName  string
		Fullname  string
		Bio       string
	}

	// Result is either clear or a hard violation with the matched token.
	Result struct {
		Violation    bool
		Reason       string
		MatchedToken string
	}

	Pipeline struct {
		httpClient     *http.Client
		profileBaseURL string
		llm            adapters.LLM
		words          []string
		patterns       []config.NamedPattern
		enabled        bool
		logger         *log.Entry
	}
)

func NewPipeline(adv config.Advertising, llmClient adapters.LLM) *Pipeline {
	return &Pipeline{
		httpClient:     newProfileHTTPClient(),
		profileBaseURL: profileBaseURL,
		llm:            llmClient,
		words:          adv.Words,
		patterns:       adv.CompiledPatterns(),
		enabled:        adv.Enabled,
		logger:         log.WithField("object", "ScreeningPipeline"),
	}
}

// Screen runs the three stages in order. S1 enriches the member with the
// public bio, S2 asks the LLM for an advisory opinion, S3 alone produces
// the binding verdict.
func (p *Pipeline) Screen(ctx context.Context, member *Member) Result {
	ctx, span := otel.Tracer("screening").Start(ctx, "screen-member")
	defer span.End()

	entry := p.logger.WithFields(log.Fields{"member_id": member.ID, "username": member.Username})

	if member.Username != "" {
		done := observability.StartScreeningStage("bio_fetch")
		profile, err := p.FetchProfile(ctx, member.Username)
		done()
		if err != nil {
			entry.WithField("error", err.Error()).Info("bio fetch failed, continuing bio-empty")
		} else {
			member.Bio = profile.Bio
		}
	}

	done := observability.StartScreeningStage("llm_classifier")
	if reason, flagged := p.classify(ctx, member); flagged {
		entry.WithField("reason", reason).Warn("classifier flagged member as spam")
	}
	done()

	if !p.enabled {
		return Result{}
	}

	done = observability.StartScreeningStage("ad_matcher")
	token, hit := p.matchAdTokens(member.Fullname, member.Bio)
	done()
	if hit {
		entry.WithField("token", token).Warn("ad matcher violation")
		return Result{Violation: true, Reason: "advertising", MatchedToken: token}
	}
	return Result{}
}
