// Package query streams the records of a paginated query.
//
// A Cursor fetches the first page with a query string and follows the
// server's next-records locator page by page. Records are delivered to
// handlers in server order, each with its position in the page and its
// running position across the whole stream.
//
// Example usage:
//
//	cur := query.New(client, "SELECT Id, Name FROM Account", query.Options{AutoFetch: true})
//	total, err := cur.Run(ctx, query.Handlers{
//		Record: func(rec record.Record, index, position int) {
//			fmt.Println(position, rec["Name"])
//		},
//	})
//
// Or as an iterator:
//
//	for rec, err := range cur.Records(ctx) {
//		if err != nil {
//			return err
//		}
//		...
//	}
//
// Without AutoFetch a cursor stops after one page; Locator then names the
// next page, which Resume continues from. Stop ends the stream at the next
// record boundary and still fires the End handler.
package query
