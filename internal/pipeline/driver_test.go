package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/provisioning"
	"github.com/imamik/k3ssm/internal/statelock"
)

type fakeBroker struct {
	lease *credentials.Lease
	err   error
	calls int
}

func (b *fakeBroker) Resolve(context.Context, credentials.ExecContext) (*credentials.Lease, error) {
	b.calls++
	return b.lease, b.err
}

type fakeLocker struct {
	err      error
	acquired []string
	released int
}

func (l *fakeLocker) WithLock(ctx context.Context, id, _ string, fn func(context.Context, *statelock.Lock) error) error {
	if l.err != nil {
		return l.err
	}
	l.acquired = append(l.acquired, id)
	defer func() { l.released++ }()
	return fn(ctx, &statelock.Lock{ID: id, Owner: "test"})
}

type fakeApprover struct {
	answer bool
	err    error
	asked  int
}

func (a *fakeApprover) Approve(context.Context, Stage, string) (bool, error) {
	a.asked++
	return a.answer, a.err
}

func lease(scope credentials.Scope) *credentials.Lease {
	return &credentials.Lease{
		AccessKeyID: "ASIAEXAMPLE", SecretAccessKey: "secret", SessionToken: "token",
		Expiry: time.Now().Add(time.Hour), Scope: scope, Source: credentials.SourceOIDC,
	}
}

var _ = Describe("Driver", func() {
	var (
		broker   *fakeBroker
		locker   *fakeLocker
		approver *fakeApprover
		env      map[string]string
		obs      *provisioning.RecordingObserver
		driver   *Driver
		ran      *RunContext
		body     Body
	)

	input := func(branch string) RunInput {
		return RunInput{
			Exec:     credentials.ExecContext{Branch: branch},
			LockID:   "bucket/k3ssm/dev/state.json",
			Observer: obs,
			Body:     body,
		}
	}

	BeforeEach(func() {
		broker = &fakeBroker{lease: lease(credentials.ScopeFull)}
		locker = &fakeLocker{}
		approver = &fakeApprover{}
		env = map[string]string{}
		obs = provisioning.NewRecordingObserver()
		ran = nil
		body = func(rc *RunContext) error {
			ran = rc
			return nil
		}
		driver = NewDriver(broker,
			func(context.Context, *credentials.Lease, *metrics.Recorder) (StateLocker, error) { return locker, nil },
			WithApprover(approver),
			WithEnv(func(k string) string { return env[k] }),
		)
	})

	Describe("validate", func() {
		It("runs without credentials, approval or lock", func() {
			Expect(driver.Run(context.Background(), StageValidate, input("feature/x"))).To(Succeed())
			Expect(ran).NotTo(BeNil())
			Expect(ran.Lease).To(BeNil())
			Expect(broker.calls).To(BeZero())
			Expect(locker.acquired).To(BeEmpty())
		})
	})

	Describe("plan", func() {
		It("runs under the state lock with a read-only lease", func() {
			broker.lease = lease(credentials.ScopeReadOnlyPlan)
			Expect(driver.Run(context.Background(), StagePlan, input("feature/x"))).To(Succeed())
			Expect(ran.Lock).NotTo(BeNil())
			Expect(ran.Lock.ID).To(Equal("bucket/k3ssm/dev/state.json"))
			Expect(locker.released).To(Equal(1))
			Expect(approver.asked).To(BeZero())
		})

		It("reports lock contention", func() {
			locker.err = statelock.ErrLockContention
			err := driver.Run(context.Background(), StagePlan, input("feature/x"))
			Expect(err).To(MatchError(statelock.ErrLockContention))
			Expect(ExitCode(err)).To(Equal(ExitLock))
			Expect(ran).To(BeNil())
		})
	})

	Describe("apply", func() {
		It("needs no approval off the protected branch", func() {
			Expect(driver.Run(context.Background(), StageApply, input("feature/x"))).To(Succeed())
			Expect(approver.asked).To(BeZero())
			Expect(ran.Lock).NotTo(BeNil())
		})

		It("is gated on main", func() {
			err := driver.Run(context.Background(), StageApply, input("main"))
			Expect(err).To(MatchError(ErrApprovalRequired))
			Expect(ExitCode(err)).To(Equal(ExitApproval))
			Expect(approver.asked).To(Equal(1))
			Expect(ran).To(BeNil())
			Expect(locker.acquired).To(BeEmpty())
		})

		It("accepts --approve", func() {
			in := input("main")
			in.Approved = true
			Expect(driver.Run(context.Background(), StageApply, in)).To(Succeed())
			Expect(approver.asked).To(BeZero())
		})

		It("accepts the approval variable", func() {
			env[EnvApproved] = "true"
			Expect(driver.Run(context.Background(), StageApply, input("main"))).To(Succeed())
		})

		It("accepts an interactive confirmation", func() {
			approver.answer = true
			Expect(driver.Run(context.Background(), StageApply, input("main"))).To(Succeed())
			Expect(ran).NotTo(BeNil())
		})

		It("refuses a read-only lease before asking for approval", func() {
			broker.lease = lease(credentials.ScopeReadOnlyPlan)
			err := driver.Run(context.Background(), StageApply, input("main"))
			Expect(err).To(MatchError(ErrScopeDenied))
			Expect(ExitCode(err)).To(Equal(ExitApproval))
			Expect(approver.asked).To(BeZero())
		})

		It("stops on authentication errors", func() {
			broker.err = &credentials.AuthError{Kind: credentials.TokenExchangeRejected, Branch: "main", Reason: "audience mismatch"}
			err := driver.Run(context.Background(), StageApply, input("main"))
			Expect(ExitCode(err)).To(Equal(ExitAuth))
			Expect(ran).To(BeNil())
		})
	})

	Describe("events and metrics", func() {
		It("emits stage start and failure and writes metrics", func() {
			dir := GinkgoT().TempDir()
			boom := errors.New("boom")
			body = func(*RunContext) error { return boom }
			in := input("feature/x")
			in.MetricsDir = dir
			in.Approved = true

			err := driver.Run(context.Background(), StageBuild, in)
			Expect(err).To(MatchError(boom))
			Expect(obs.Types()).To(HaveExactElements(provisioning.EventStageStarted, provisioning.EventStageFailed))

			data, readErr := os.ReadFile(filepath.Join(dir, metrics.TextfileName))
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`k3ssm_stage_runs_total{result="failure",stage="build"} 1`))
		})

		It("never logs lease secrets", func() {
			Expect(driver.Run(context.Background(), StageValidate, input("feature/x"))).To(Succeed())
			Expect(driver.Run(context.Background(), StagePlan, input("feature/x"))).To(Succeed())
			for _, msg := range obs.Messages() {
				Expect(msg).NotTo(ContainSubstring("secret"))
				Expect(msg).NotTo(ContainSubstring("token"))
			}
		})
	})

	It("rejects unknown stages", func() {
		Expect(driver.Run(context.Background(), Stage("nope"), input("main"))).To(HaveOccurred())
	})
})
