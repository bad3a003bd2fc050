package pipeline

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/imamik/k3ssm/internal/bootstrap"
	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/statelock"
)

var _ = Describe("Stage table", func() {
	DescribeTable("gating",
		func(stage Stage, branch string, gated bool) {
			spec, err := Lookup(stage)
			Expect(err).NotTo(HaveOccurred())
			Expect(spec.Gated(branch)).To(Equal(gated))
		},
		Entry("validate never", StageValidate, "main", false),
		Entry("plan never", StagePlan, "main", false),
		Entry("apply on main", StageApply, "main", true),
		Entry("apply elsewhere", StageApply, "feature/x", false),
		Entry("build always", StageBuild, "feature/x", true),
		Entry("deploy always", StageDeploy, "feature/x", true),
		Entry("test always", StageTest, "feature/x", true),
		Entry("destroy always", StageDestroy, "feature/x", true),
		Entry("iam always", StageIAM, "feature/x", true),
		Entry("init always", StageInit, "feature/x", true),
	)

	It("requires full scope exactly for mutating stages", func() {
		for _, name := range Stages() {
			spec, _ := Lookup(name)
			if spec.Mutates {
				Expect(spec.Scope).To(Equal(credentials.ScopeFull), string(name))
			} else {
				Expect(spec.Scope).To(Equal(credentials.ScopeReadOnlyPlan), string(name))
			}
		}
	})

	It("locks exactly the state-touching stages", func() {
		var locked []Stage
		for _, name := range Stages() {
			if spec, _ := Lookup(name); spec.Locked {
				locked = append(locked, name)
			}
		}
		Expect(locked).To(ConsistOf(StagePlan, StageApply, StageDestroy))
	})
})

var _ = Describe("ExitCode", func() {
	DescribeTable("maps errors",
		func(err error, code int) {
			Expect(ExitCode(err)).To(Equal(code))
		},
		Entry("success", nil, ExitOK),
		Entry("generic", errors.New("boom"), ExitFailure),
		Entry("auth", fmt.Errorf("resolve: %w", &credentials.AuthError{Kind: credentials.InvalidStaticCredentials}), ExitAuth),
		Entry("plan", &planner.PlanError{Kind: planner.AmbiguousInstance}, ExitPlan),
		Entry("exec", &bootstrap.ExecError{Kind: bootstrap.SoftwareNotReady, ActionIndex: 1, Err: errors.New("x")}, ExitExec),
		Entry("lock", fmt.Errorf("apply: %w", statelock.ErrLockContention), ExitLock),
		Entry("approval", ErrApprovalRequired, ExitApproval),
		Entry("scope", ErrScopeDenied, ExitApproval),
	)
})

var _ = Describe("Summary", func() {
	It("lists every action", func() {
		plan := planner.ActionPlan{Actions: []planner.Action{
			{Kind: planner.ActionCreateInstance, Spec: &planner.InstanceSpec{Name: "k3s-dev"}},
			{Kind: planner.ActionSkipSoftware},
		}}
		out := RenderPlan("dev", plan)
		Expect(out).To(ContainSubstring("Plan for dev: 2 action(s)"))
		Expect(out).To(ContainSubstring("0. CreateInstance(name=k3s-dev"))
		Expect(out).To(ContainSubstring("1. SkipSoftware"))
	})

	It("shows the exit code of a failure", func() {
		out := RenderResult(StageApply, 3*time.Second, statelock.ErrLockContention)
		Expect(out).To(ContainSubstring("apply failed after 3s (exit 5)"))
	})
})
