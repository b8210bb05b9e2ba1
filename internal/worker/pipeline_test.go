package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ignite/fanmail/internal/domain"
	"github.com/ignite/fanmail/internal/pkg/distlock"
	"github.com/ignite/fanmail/internal/queue"
	"github.com/ignite/fanmail/internal/quota"
	"github.com/ignite/fanmail/internal/repository/memory"
	"github.com/ignite/fanmail/internal/service/campaign"
	"github.com/ignite/fanmail/internal/service/fan"
	"github.com/ignite/fanmail/internal/service/segment"
	"github.com/ignite/fanmail/internal/service/sending"
	"github.com/ignite/fanmail/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeline struct {
	sending   *sending.Service
	worker    *worker.SendWorker
	campaigns *campaign.Service
	segments  *segment.Service
	fans      *memory.FanRepo
	queue     *queue.MemoryStore
	sender    *fakeSender
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	return newPipelineWith(t, sending.Config{}, worker.Config{Workers: 2, DequeueTimeout: 20 * time.Millisecond})
}

func newPipelineWith(t *testing.T, scfg sending.Config, wcfg worker.Config) *pipeline {
	t.Helper()
	p := &pipeline{
		campaigns: campaign.NewService(memory.NewCampaignRepo()),
		fans:      memory.NewFanRepo(),
		queue:     queue.NewMemoryStore(),
		sender:    &fakeSender{reject: map[string]bool{}},
	}
	locks := distlock.NewLocalTable().Factory()
	q := quota.NewController(quota.NewMemoryStore(), roomyLimits())
	fans := fan.NewService(p.fans)
	p.segments = segment.NewService(memory.NewSegmentRepo(), fans)
	p.sending = sending.NewService(sending.Deps{
		Campaigns: p.campaigns, Audience: fans, Segments: p.segments,
		Quota: q, Queue: p.queue, Locks: locks,
	}, scfg)
	p.worker = worker.NewSendWorker(worker.Deps{
		Queue: p.queue, Quota: q, Campaigns: p.campaigns, Sender: p.sender, Locks: locks,
	}, wcfg)
	return p
}

func (p *pipeline) newCampaign(t *testing.T) *domain.Campaign {
	t.Helper()
	c, err := p.campaigns.Create(context.Background(), acct, campaign.CreateInput{
		Name: "Tour", Subject: "New dates", Content: "<p>hi</p>", FromName: "Band", FromEmail: "news@band.com",
	})
	require.NoError(t, err)
	return c
}

func (p *pipeline) waitFor(t *testing.T, jobID string, state domain.JobState) *sending.JobStatus {
	t.Helper()
	var st *sending.JobStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = p.sending.GetJobStatus(context.Background(), acct, jobID)
		return err == nil && st.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func (p *pipeline) waitForCampaign(t *testing.T, id string, status domain.CampaignStatus) *domain.Campaign {
	t.Helper()
	var c *domain.Campaign
	require.Eventually(t, func() bool {
		var err error
		c, err = p.campaigns.Get(context.Background(), acct, id)
		return err == nil && c.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return c
}

func TestPipeline_SegmentAndFullSend(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	p.fans.Put(domain.Fan{ID: "f1", AccountID: acct, Email: "vip@example.com", Status: domain.FanSubscribed, Tags: []string{"vip"}})
	p.fans.Put(domain.Fan{ID: "f2", AccountID: acct, Email: "b@example.com", Status: domain.FanSubscribed})
	p.fans.Put(domain.Fan{ID: "f3", AccountID: acct, Email: "c@example.com", Status: domain.FanSubscribed})
	p.fans.Put(domain.Fan{ID: "f4", AccountID: acct, Email: "gone@example.com", Status: domain.FanUnsubscribed, Tags: []string{"vip"}})

	seg, err := p.segments.Create(ctx, acct, segment.CreateInput{
		Name:       "VIP",
		Conditions: json.RawMessage(`[{"field":"tags","operator":"contains","value":"vip"}]`),
	})
	require.NoError(t, err)

	require.NoError(t, p.worker.Start(ctx))
	defer p.worker.Stop()

	vip := p.newCampaign(t)
	res, err := p.sending.EnqueueCampaignSend(ctx, acct, vip.ID, sending.SendOptions{SegmentID: seg.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	st := p.waitFor(t, res.JobID, domain.JobComplete)
	assert.Equal(t, 1, st.Processed)

	everyone := p.newCampaign(t)
	res, err = p.sending.EnqueueCampaignSend(ctx, acct, everyone.ID, sending.SendOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	st = p.waitFor(t, res.JobID, domain.JobComplete)
	assert.Equal(t, 3, st.Processed)
	assert.Equal(t, 3, st.Succeeded)
	assert.Equal(t, 100, st.Progress)

	c := p.waitForCampaign(t, everyone.ID, domain.CampaignSent)
	assert.Equal(t, 3, c.SentCount)

	_, err = p.sending.EnqueueCampaignSend(ctx, acct, everyone.ID, sending.SendOptions{})
	assert.ErrorIs(t, err, sending.ErrAlreadySent)
	assert.Equal(t, 4, p.sender.count())
}

func TestPipeline_RetryFailedRecipients(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	for _, r := range recipients(5) {
		p.fans.Put(domain.Fan{ID: r.FanID, AccountID: acct, Email: r.Email, Status: domain.FanSubscribed})
	}
	p.sender.mu.Lock()
	p.sender.reject["fan1@example.com"] = true
	p.sender.reject["fan3@example.com"] = true
	p.sender.mu.Unlock()

	require.NoError(t, p.worker.Start(ctx))
	defer p.worker.Stop()

	c := p.newCampaign(t)
	res, err := p.sending.EnqueueCampaignSend(ctx, acct, c.ID, sending.SendOptions{})
	require.NoError(t, err)
	st := p.waitFor(t, res.JobID, domain.JobComplete)
	assert.Equal(t, 2, st.Failed)
	p.waitForCampaign(t, c.ID, domain.CampaignSent)

	p.sender.mu.Lock()
	p.sender.reject = map[string]bool{}
	p.sender.mu.Unlock()

	retry, err := p.sending.RetryFailed(ctx, acct, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, retry.TotalCount)
	p.waitFor(t, retry.JobID, domain.JobComplete)

	require.Eventually(t, func() bool {
		got, err := p.campaigns.Get(ctx, acct, c.ID)
		return err == nil && got.SentCount == 5 && got.FailedCount == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPipeline_PausedJobIsParkedUntilResumed(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	for _, r := range recipients(4) {
		p.fans.Put(domain.Fan{ID: r.FanID, AccountID: acct, Email: r.Email, Status: domain.FanSubscribed})
	}

	c := p.newCampaign(t)
	res, err := p.sending.EnqueueCampaignSend(ctx, acct, c.ID, sending.SendOptions{})
	require.NoError(t, err)
	_, err = p.sending.Pause(ctx, acct, res.JobID)
	require.NoError(t, err)

	require.NoError(t, p.worker.Start(ctx))
	defer p.worker.Stop()

	require.Eventually(t, func() bool {
		d, err := p.queue.Depth(ctx)
		return err == nil && d == queue.Depth{}
	}, 5*time.Second, 10*time.Millisecond)
	st, err := p.sending.GetJobStatus(ctx, acct, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPaused, st.State)
	assert.Zero(t, st.Processed)
	assert.Zero(t, p.sender.count())

	_, err = p.sending.Resume(ctx, acct, res.JobID)
	require.NoError(t, err)
	p.waitFor(t, res.JobID, domain.JobComplete)
	assert.Equal(t, 4, p.sender.count())
}

func TestPipeline_PauseDuringLongBatchOutlivesLockTTL(t *testing.T) {
	p := newPipelineWith(t,
		sending.Config{LockTTL: 100 * time.Millisecond},
		worker.Config{Workers: 1, Concurrency: 1, LockTTL: 100 * time.Millisecond, DequeueTimeout: 20 * time.Millisecond},
	)
	p.sender.delay = 300 * time.Millisecond
	ctx := context.Background()
	for _, r := range recipients(4) {
		p.fans.Put(domain.Fan{ID: r.FanID, AccountID: acct, Email: r.Email, Status: domain.FanSubscribed})
	}

	require.NoError(t, p.worker.Start(ctx))
	defer p.worker.Stop()

	c := p.newCampaign(t)
	res, err := p.sending.EnqueueCampaignSend(ctx, acct, c.ID, sending.SendOptions{BatchSize: 2})
	require.NoError(t, err)
	p.waitFor(t, res.JobID, domain.JobSending)

	st, err := p.sending.Pause(ctx, acct, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPaused, st.State)

	// The first batch outlived several lock TTLs; nothing may overwrite the
	// pause or start the second batch.
	time.Sleep(time.Second)
	st, err = p.sending.GetJobStatus(ctx, acct, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPaused, st.State)
	assert.Equal(t, 2, st.Processed)
	assert.Equal(t, 2, p.sender.count())

	_, err = p.sending.Resume(ctx, acct, res.JobID)
	require.NoError(t, err)
	st = p.waitFor(t, res.JobID, domain.JobComplete)
	assert.Equal(t, 4, st.Processed)
	assert.Equal(t, 4, p.sender.count())
}

func TestPipeline_ResumeWhileStillQueuedDoesNotDuplicate(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	for _, r := range recipients(3) {
		p.fans.Put(domain.Fan{ID: r.FanID, AccountID: acct, Email: r.Email, Status: domain.FanSubscribed})
	}

	c := p.newCampaign(t)
	res, err := p.sending.EnqueueCampaignSend(ctx, acct, c.ID, sending.SendOptions{})
	require.NoError(t, err)
	_, err = p.sending.Pause(ctx, acct, res.JobID)
	require.NoError(t, err)
	_, err = p.sending.Resume(ctx, acct, res.JobID)
	require.NoError(t, err)

	d, err := p.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Depth{Ready: 1}, d)

	require.NoError(t, p.worker.Start(ctx))
	defer p.worker.Stop()
	p.waitFor(t, res.JobID, domain.JobComplete)
	assert.Equal(t, 3, p.sender.count())
}
