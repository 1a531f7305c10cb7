// Package orders holds restaurant orders, customers and conversation threads,
// and registers the order tools the agents call.
package orders
