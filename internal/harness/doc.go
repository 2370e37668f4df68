// Package harness runs YAML scenarios against a freshly installed
// deployment and checks their outcome.
//
// # Scenario Format
//
//	name: direct_message
//	description: "What this scenario validates"
//	manifest: ../manifests/messaging.cue
//	flow:
//	  - call: createConversation
//	    from: alice
//	    args: [bob, "0xaa01", "0xbb02"]
//	    save: [convo]
//	  - view: getMyKey
//	    from: bob
//	    args: [$convo]
//	    expect:
//	      output: ["0xbb02"]
//	  - call: sendMessage
//	    from: alice
//	    value: "1"
//	    args: [$convo, bob, hello]
//	    expect:
//	      error: INSUFFICIENT_VALUE
//	assertions:
//	  - type: event_order
//	    names: [ConversationCreated, MessageSent]
//	  - type: balance
//	    account: alice
//	    amount: "999_900_000_000_000_000"
//
// Steps default to the manifest owner as sender and the proxy as target.
// Accounts are dev account names, 0x addresses or deployment references
// ($proxy, $module.<name>, $token.<name>). Outputs named by save are
// substituted for later arguments written as $name.
//
// # Assertion Types
//
//   - event_emitted: an event with the given name, emitter and field subset
//   - event_order: events appear in the given relative order
//   - event_count: an event appears exactly N times
//   - balance: an account's native balance
//   - query: a view's decoded outputs
//   - final_state: one row of the persisted store
//
// # Deterministic Testing
//
// Every run uses a stopped clock at testutil.Epoch, sequential call ids and
// an in-memory SQLite store, so identical scenarios produce identical traces
// and golden snapshots are stable.
package harness
