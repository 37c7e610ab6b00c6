// Package notify holds the pure domain vocabulary of the notification
// engine: event kinds, cadences, roles, batch keys, and the preference
// policy. Nothing here touches storage or the network.
package notify
