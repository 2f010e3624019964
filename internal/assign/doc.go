// Package assign selects a human agent for an escalated conversation.
//
// Candidates are tried in four tiers, stopping at the first that is not empty:
//
//  1. online members of the preferred team
//  2. away members of the preferred team
//  3. online members of any active team
//  4. away members of any active team
//
// Tiers 1 and 2 are skipped without a preferred team. Busy and offline agents
// are never chosen. Within a tier the lowest load wins and ties go to the
// earlier candidate in directory order. Load is the number of open or active
// conversations assigned to the agent.
package assign
