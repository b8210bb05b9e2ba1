// Package campaign owns campaign lookup and the campaign side of the send
// lifecycle. The scheduler and workers move a campaign through
//
//	draft|failed → scheduled → sending ⇄ paused → sent|failed
//
// and every move goes through a conditional update so that two processes
// racing on the same campaign cannot both win.
//
// Repository implementations live in repository/postgres/.
package campaign
