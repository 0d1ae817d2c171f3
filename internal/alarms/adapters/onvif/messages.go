package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	actionGetSystemDateAndTime = "http://www.onvif.org/ver10/device/wsdl/GetSystemDateAndTime"
	actionGetCapabilities      = "http://www.onvif.org/ver10/device/wsdl/GetCapabilities"
	actionCreatePullPoint      = "http://www.onvif.org/ver10/events/wsdl/EventPortType/CreatePullPointSubscriptionRequest"
	actionPullMessages         = "http://www.onvif.org/ver10/events/wsdl/PullPointSubscription/PullMessagesRequest"
	actionRenew                = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/RenewRequest"
	actionUnsubscribe          = "http://docs.oasis-open.org/wsn/bw-2/SubscriptionManager/UnsubscribeRequest"
)

// xsDuration renders d as a whole-second xs:duration (PT60S).
func xsDuration(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("PT%dS", secs)
}

// GetSystemDateAndTime returns the device UTC clock. It is sent without
// credentials.
func (c *SOAPClient) GetSystemDateAndTime(ctx context.Context, deviceURL string) (time.Time, error) {
	reqBody := `<tds:GetSystemDateAndTime xmlns:tds="http://www.onvif.org/ver10/device/wsdl"/>`
	resp, err := c.CallAnonymous(ctx, deviceURL, actionGetSystemDateAndTime, reqBody)
	if err != nil {
		return time.Time{}, err
	}

	var parsed struct {
		Body struct {
			Response struct {
				SystemDateAndTime struct {
					UTCDateTime struct {
						Date struct {
							Year  int `xml:"Year"`
							Month int `xml:"Month"`
							Day   int `xml:"Day"`
						} `xml:"Date"`
						Time struct {
							Hour   int `xml:"Hour"`
							Minute int `xml:"Minute"`
							Second int `xml:"Second"`
						} `xml:"Time"`
					} `xml:"UTCDateTime"`
				} `xml:"SystemDateAndTime"`
			} `xml:"GetSystemDateAndTimeResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return time.Time{}, err
	}

	u := parsed.Body.Response.SystemDateAndTime.UTCDateTime
	if u.Date.Year == 0 {
		return time.Time{}, fmt.Errorf("onvif: device reported no UTC time")
	}
	return time.Date(u.Date.Year, time.Month(u.Date.Month), u.Date.Day,
		u.Time.Hour, u.Time.Minute, u.Time.Second, 0, time.UTC), nil
}

// EventCapabilities is the Events section of GetCapabilities.
type EventCapabilities struct {
	XAddr              string
	WSPullPointSupport bool
}

func (c *SOAPClient) GetEventCapabilities(ctx context.Context, deviceURL string) (EventCapabilities, error) {
	reqBody := `<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Category>Events</tds:Category>
	</tds:GetCapabilities>`

	resp, err := c.Call(ctx, deviceURL, actionGetCapabilities, reqBody)
	if err != nil {
		return EventCapabilities{}, err
	}

	var caps struct {
		Body struct {
			GetCapabilitiesResponse struct {
				Capabilities struct {
					Events struct {
						XAddr              string `xml:"XAddr"`
						WSPullPointSupport string `xml:"WSPullPointSupport"`
					} `xml:"Events"`
				} `xml:"Capabilities"`
			} `xml:"GetCapabilitiesResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &caps); err != nil {
		return EventCapabilities{}, err
	}

	ev := caps.Body.GetCapabilitiesResponse.Capabilities.Events
	support, _ := strconv.ParseBool(strings.TrimSpace(ev.WSPullPointSupport))
	return EventCapabilities{
		XAddr:              strings.TrimSpace(ev.XAddr),
		WSPullPointSupport: support,
	}, nil
}

// Subscription is a live pull-point subscription.
type Subscription struct {
	Address         string
	TerminationTime string
}

func (c *SOAPClient) CreatePullPointSubscription(ctx context.Context, eventsURL string, termination time.Duration) (Subscription, error) {
	reqBody := fmt.Sprintf(`<tev:CreatePullPointSubscription xmlns:tev="http://www.onvif.org/ver10/events/wsdl">
		<tev:InitialTerminationTime>%s</tev:InitialTerminationTime>
	</tev:CreatePullPointSubscription>`, xsDuration(termination))

	resp, err := c.Call(ctx, eventsURL, actionCreatePullPoint, reqBody)
	if err != nil {
		return Subscription{}, err
	}

	var parsed struct {
		Body struct {
			Response struct {
				SubscriptionReference struct {
					Address string `xml:"Address"`
				} `xml:"SubscriptionReference"`
				TerminationTime string `xml:"TerminationTime"`
			} `xml:"CreatePullPointSubscriptionResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return Subscription{}, err
	}

	addr := strings.TrimSpace(parsed.Body.Response.SubscriptionReference.Address)
	if addr == "" {
		return Subscription{}, fmt.Errorf("onvif: subscription reference missing")
	}
	return Subscription{Address: addr, TerminationTime: parsed.Body.Response.TerminationTime}, nil
}

type simpleItem struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

type itemList struct {
	Items []simpleItem `xml:"SimpleItem"`
}

// NotificationMessage is one entry of a PullMessages response.
type NotificationMessage struct {
	Topic   string `xml:"Topic"`
	Message struct {
		Message struct {
			UtcTime           string   `xml:"UtcTime,attr"`
			PropertyOperation string   `xml:"PropertyOperation,attr"`
			Source            itemList `xml:"Source"`
			Data              itemList `xml:"Data"`
		} `xml:"Message"`
	} `xml:"Message"`
}

func (c *SOAPClient) PullMessages(ctx context.Context, subscriptionURL string, wait time.Duration, limit int) ([]NotificationMessage, error) {
	reqBody := fmt.Sprintf(`<tev:PullMessages xmlns:tev="http://www.onvif.org/ver10/events/wsdl">
		<tev:Timeout>%s</tev:Timeout>
		<tev:MessageLimit>%d</tev:MessageLimit>
	</tev:PullMessages>`, xsDuration(wait), limit)

	resp, err := c.Call(ctx, subscriptionURL, actionPullMessages, reqBody)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Body struct {
			Response struct {
				Messages []NotificationMessage `xml:"NotificationMessage"`
			} `xml:"PullMessagesResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(resp, &parsed); err != nil {
		return nil, err
	}
	return parsed.Body.Response.Messages, nil
}

func (c *SOAPClient) Renew(ctx context.Context, subscriptionURL string, termination time.Duration) error {
	reqBody := fmt.Sprintf(`<wsnt:Renew xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2">
		<wsnt:TerminationTime>%s</wsnt:TerminationTime>
	</wsnt:Renew>`, xsDuration(termination))
	_, err := c.Call(ctx, subscriptionURL, actionRenew, reqBody)
	return err
}

func (c *SOAPClient) Unsubscribe(ctx context.Context, subscriptionURL string) error {
	reqBody := `<wsnt:Unsubscribe xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"/>`
	_, err := c.Call(ctx, subscriptionURL, actionUnsubscribe, reqBody)
	return err
}
