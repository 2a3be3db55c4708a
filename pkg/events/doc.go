/*
Package events provides an in-memory pub/sub broker for lifecycle events.

The activity log publishes every recorded event through the broker so
components (API streamers, metrics, tests) can observe the claim/release
lifecycle without polling the store. Delivery is best-effort: publishing
never blocks and slow subscribers drop events once their buffer fills.
*/
package events
